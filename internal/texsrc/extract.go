// Package texsrc turns a downloaded arXiv e-print archive into sectioned
// text and structured citation entries: archive extraction, LaTeX file
// organization, section splitting, and multi-tier bibliography parsing.
package texsrc

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// maxExtractedFileSize bounds a single extracted file (100MB).
const maxExtractedFileSize = 100 * 1024 * 1024

// Source describes the organized LaTeX source tree for one paper.
type Source struct {
	// Dir is the directory holding the organized files.
	Dir string

	// MainTex is the cleaned, combined main document content.
	MainTex string

	// CitationFiles are .bib and .bbl file paths found in the source.
	CitationFiles []string

	// PDFFiles are any PDF files shipped with the source.
	PDFFiles []string

	// TexFileCount is the number of .tex files found.
	TexFileCount int
}

// ExtractArchive unpacks an e-print archive into destDir. Archives are
// usually gzipped tarballs; a bare gzipped TeX file is unpacked as main.tex.
func ExtractArchive(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("reading gzip: %w", err)
	}
	defer gzr.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating dest dir: %w", err)
	}

	tr := tar.NewReader(gzr)
	extracted := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if extracted == 0 {
				// Not a tarball: treat the gzip payload as a single TeX file.
				return extractSingleFile(archivePath, destDir)
			}
			return fmt.Errorf("reading tar: %w", err)
		}

		// Prevent path traversal
		name := filepath.Clean(hdr.Name)
		if strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			continue
		}

		target := filepath.Join(destDir, name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating dir: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent dir: %w", err)
			}
			out, err := os.Create(target)
			if err != nil {
				return fmt.Errorf("creating file: %w", err)
			}
			_, err = io.CopyN(out, tr, maxExtractedFileSize)
			out.Close()
			if err != nil && err != io.EOF {
				return fmt.Errorf("writing file: %w", err)
			}
			extracted++
		}
	}

	if extracted == 0 {
		return extractSingleFile(archivePath, destDir)
	}
	return nil
}

func extractSingleFile(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("reading gzip: %w", err)
	}
	defer gzr.Close()

	out, err := os.Create(filepath.Join(destDir, "main.tex"))
	if err != nil {
		return fmt.Errorf("creating main.tex: %w", err)
	}
	defer out.Close()

	if _, err := io.CopyN(out, gzr, maxExtractedFileSize); err != nil && err != io.EOF {
		return fmt.Errorf("writing main.tex: %w", err)
	}
	return nil
}

// Organize walks an extracted source tree, finds the main TeX document,
// resolves \input and \include directives against sibling files, strips
// comments and figures, and collects citation and PDF files.
func Organize(srcDir string) (*Source, error) {
	src := &Source{Dir: srcDir}
	texByStem := make(map[string]string)
	var mainStem string

	err := filepath.WalkDir(srcDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".tex":
			data, err := os.ReadFile(path)
			if err != nil {
				return nil
			}
			content := CleanTex(string(data))
			stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			texByStem[stem] = content
			src.TexFileCount++
			if strings.Contains(content, `\documentclass`) && mainStem == "" {
				mainStem = stem
			}
		case ".bib", ".bbl":
			src.CitationFiles = append(src.CitationFiles, path)
		case ".pdf":
			src.PDFFiles = append(src.PDFFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking source tree: %w", err)
	}

	if src.TexFileCount == 0 {
		return nil, fmt.Errorf("no .tex files in %s", srcDir)
	}

	if mainStem == "" {
		slog.Warn("no main LaTeX file found, using first", "dir", srcDir)
		for stem := range texByStem {
			mainStem = stem
			break
		}
	}

	src.MainTex = resolveInputs(texByStem[mainStem], texByStem)
	return src, nil
}

var (
	commentLine   = regexp.MustCompile(`(?m)^\s*%.*$`)
	blankLines    = regexp.MustCompile(`(?m)^\s*\n`)
	inputDirect   = regexp.MustCompile(`\\(?:input|include)\{([^}]+)\}`)
	figureEnvs    = []*regexp.Regexp{
		regexp.MustCompile(`(?s)\\begin\{figure.*?\\end\{figure\*?\}`),
		regexp.MustCompile(`(?s)\\begin\{wrapfigure.*?\\end\{wrapfigure\}`),
		regexp.MustCompile(`\\includesvg(\[[^\]]*\])?\{[^}]*\}`),
		regexp.MustCompile(`\\includegraphics(\[[^\]]*\])?\{[^}]*\}`),
	}
)

// CleanTex strips comments, figure environments, and blank lines from LaTeX
// content.
func CleanTex(tex string) string {
	tex = commentLine.ReplaceAllString(tex, "")
	for _, p := range figureEnvs {
		tex = p.ReplaceAllString(tex, "")
	}
	return blankLines.ReplaceAllString(tex, "")
}

// resolveInputs replaces \input{file} and \include{file} with the referenced
// file's cleaned content. Unknown references resolve to empty, matching a
// build where the file was omitted from the archive.
func resolveInputs(mainTex string, texByStem map[string]string) string {
	return inputDirect.ReplaceAllStringFunc(mainTex, func(m string) string {
		sub := inputDirect.FindStringSubmatch(m)
		name := filepath.Base(strings.TrimSpace(sub[1]))
		name = strings.TrimSuffix(name, ".tex")
		return texByStem[name]
	})
}
