package texsrc

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/matsen/papergraph/internal/arxivid"
	"github.com/matsen/papergraph/internal/paper"
)

// Bibliography parsing runs in tiers; the first tier that yields at least
// one citation wins and later tiers are not attempted:
//
//  1. structured .bib files
//  2. .bbl files (\bibitem / \newblock positional grammar)
//  3. an inline thebibliography environment in the document body
//  4. arXiv IDs scanned out of bundled PDFs (IDs only, no titles)
//
// Zero citations from every tier is legal: the paper is still valid, it just
// contributes no outgoing edges.

// ExtractCitations extracts structured citation entries from an organized
// source tree.
func ExtractCitations(src *Source) []paper.CitationEntry {
	if entries := parseBibFiles(src.CitationFiles); len(entries) > 0 {
		return entries
	}
	if entries := parseBBLFiles(src.CitationFiles); len(entries) > 0 {
		return entries
	}
	if entries := parseInlineBibliography(src.MainTex); len(entries) > 0 {
		return entries
	}
	return scanPDFReferences(src.PDFFiles)
}

var (
	bibEntryStart = regexp.MustCompile(`@\w+\s*\{\s*([^,\s]+)\s*,`)
	bibField      = regexp.MustCompile(`(?i)(\w+)\s*=\s*`)

	bibitemSplit = regexp.MustCompile(`\\bibitem\s*(?:\[[^\]]*\])?\s*\{([^}]+)\}`)
	newblockSep  = regexp.MustCompile(`\\newblock`)
	yearInBody   = regexp.MustCompile(`((?:19|20)\d{2})\.`)

	theBibEnv     = regexp.MustCompile(`(?s)\\begin\{thebibliography\}.*?\\end\{thebibliography\}`)
	inlineBibitem = regexp.MustCompile(`(?s)\\bibitem\s*(?:\[[^\]]*\])?\s*\{([^}]+)\}\s*([^\\]+)`)
	bracedTitle   = regexp.MustCompile(`\{\s*([^}]+)\s*\}`)

	// arXiv IDs embedded in bibliography text (eprint fields, explicit
	// arXiv: mentions, abs/pdf URLs).
	embeddedArxivID = []*regexp.Regexp{
		regexp.MustCompile(`(?i)eprint\s*=\s*[{"']?(\d{4}\.\d{4,5}(?:v\d+)?)`),
		regexp.MustCompile(`(?i)arXiv[:\s]+(\d{4}\.\d{4,5}(?:v\d+)?)`),
		regexp.MustCompile(`(?i)arxiv\.org/(?:abs|pdf)/(\d{4}\.\d{4,5}(?:v\d+)?)`),
		regexp.MustCompile(`(?i)arXiv[:\s]+([a-z-]+/\d{7}(?:v\d+)?)`),
	}
)

// parseBibFiles parses structured .bib files: tier 1.
func parseBibFiles(files []string) []paper.CitationEntry {
	var entries []paper.CitationEntry
	for _, path := range files {
		if !strings.EqualFold(filepath.Ext(path), ".bib") {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("reading .bib file failed", "path", path, "error", err)
			continue
		}
		entries = append(entries, parseBibContent(string(data))...)
	}
	return entries
}

// parseBibContent walks .bib entry blocks, extracting key, title, year, and
// any embedded eprint ID. Values are read with brace matching, so nested
// braces in titles survive.
func parseBibContent(content string) []paper.CitationEntry {
	var entries []paper.CitationEntry

	starts := bibEntryStart.FindAllStringSubmatchIndex(content, -1)
	for i, s := range starts {
		key := content[s[2]:s[3]]
		end := len(content)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		block := content[s[1]:end]

		title := bibFieldValue(block, "title")
		if title == "" {
			continue
		}
		entries = append(entries, paper.CitationEntry{
			Key:     key,
			Title:   title,
			Year:    bibFieldValue(block, "year"),
			ArXivID: findEmbeddedID(block),
		})
	}
	return entries
}

// bibFieldValue extracts a named field value from a .bib entry block,
// handling both {braced} and "quoted" values.
func bibFieldValue(block, field string) string {
	for _, m := range bibField.FindAllStringSubmatchIndex(block, -1) {
		name := strings.ToLower(block[m[2]:m[3]])
		if name != field {
			continue
		}
		rest := block[m[1]:]
		if len(rest) == 0 {
			return ""
		}
		switch rest[0] {
		case '{':
			return matchBraces(rest)
		case '"':
			if end := strings.IndexByte(rest[1:], '"'); end >= 0 {
				return cleanBibValue(rest[1 : 1+end])
			}
		default:
			// Bare value (common for year = 2020,)
			end := strings.IndexAny(rest, ",\n}")
			if end < 0 {
				end = len(rest)
			}
			return cleanBibValue(rest[:end])
		}
	}
	return ""
}

// matchBraces returns the content of the leading brace group in s.
func matchBraces(s string) string {
	depth := 0
	for i, r := range s {
		switch r {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return cleanBibValue(s[1:i])
			}
		}
	}
	return ""
}

func cleanBibValue(v string) string {
	v = strings.ReplaceAll(v, "{", "")
	v = strings.ReplaceAll(v, "}", "")
	return strings.Join(strings.Fields(v), " ")
}

// parseBBLFiles parses compiled .bbl bibliography files: tier 2. Entries
// follow a positional grammar: key, then author block, then title block,
// each delimited by \newblock, with the year read from the entry body.
func parseBBLFiles(files []string) []paper.CitationEntry {
	var entries []paper.CitationEntry
	for _, path := range files {
		if !strings.EqualFold(filepath.Ext(path), ".bbl") {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("reading .bbl file failed", "path", path, "error", err)
			continue
		}
		entries = append(entries, parseBBLContent(string(data))...)
	}
	return entries
}

func parseBBLContent(content string) []paper.CitationEntry {
	var entries []paper.CitationEntry

	items := bibitemSplit.FindAllStringSubmatchIndex(content, -1)
	for i, item := range items {
		key := strings.TrimSpace(content[item[2]:item[3]])
		end := len(content)
		if i+1 < len(items) {
			end = items[i+1][0]
		}
		body := content[item[1]:end]

		entry := paper.CitationEntry{Key: key, ArXivID: findEmbeddedID(body)}

		blocks := newblockSep.Split(body, -1)
		if len(blocks) > 0 {
			entry.Authors = flattenTeX(blocks[0])
		}
		if len(blocks) > 1 {
			entry.Title = flattenTeX(blocks[1])
		}
		if ym := yearInBody.FindStringSubmatch(body); ym != nil {
			entry.Year = ym[1]
		}

		entries = append(entries, entry)
	}
	return entries
}

// parseInlineBibliography scans the document body for a thebibliography
// environment: tier 3. Only key and a braced-title heuristic are available
// at this tier.
func parseInlineBibliography(tex string) []paper.CitationEntry {
	env := theBibEnv.FindString(tex)
	if env == "" {
		return nil
	}

	var entries []paper.CitationEntry
	for _, m := range inlineBibitem.FindAllStringSubmatch(env, -1) {
		key := strings.TrimSpace(m[1])
		body := m[2]

		tm := bracedTitle.FindStringSubmatch(body)
		if tm == nil {
			continue
		}
		entries = append(entries, paper.CitationEntry{
			Key:     key,
			Title:   strings.TrimSpace(tm[1]),
			ArXivID: findEmbeddedID(body),
		})
	}
	return entries
}

// scanPDFReferences extracts arXiv IDs from bundled PDFs: tier 4. These
// entries carry an ID but no title; they skip title resolution entirely.
func scanPDFReferences(pdfFiles []string) []paper.CitationEntry {
	var entries []paper.CitationEntry
	seen := make(map[string]bool)
	for _, path := range pdfFiles {
		text, err := pdfText(path)
		if err != nil {
			slog.Warn("pdf text extraction failed", "path", path, "error", err)
			continue
		}
		for _, id := range findAllEmbeddedIDs(text) {
			if seen[id] {
				continue
			}
			seen[id] = true
			entries = append(entries, paper.CitationEntry{
				Key:     "pdf:" + id,
				ArXivID: id,
			})
		}
	}
	return entries
}

func findEmbeddedID(text string) string {
	for _, p := range embeddedArxivID {
		if m := p.FindStringSubmatch(text); m != nil {
			return arxivid.StripVersion(m[1])
		}
	}
	return ""
}

func findAllEmbeddedIDs(text string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, p := range embeddedArxivID {
		for _, m := range p.FindAllStringSubmatch(text, -1) {
			id := arxivid.StripVersion(m[1])
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// flattenTeX collapses a TeX fragment to plain-ish text.
func flattenTeX(s string) string {
	s = strings.ReplaceAll(s, "{", "")
	s = strings.ReplaceAll(s, "}", "")
	s = strings.ReplaceAll(s, "~", " ")
	s = strings.TrimSuffix(strings.TrimSpace(strings.Join(strings.Fields(s), " ")), ".")
	return s
}
