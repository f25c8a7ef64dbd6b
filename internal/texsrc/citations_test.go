package texsrc

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleBib = `@article{vaswani2017,
  title = {Attention Is All You Need},
  author = {Vaswani, Ashish and others},
  year = {2017},
  eprint = {1706.03762},
}

@inproceedings{devlin2019,
  title = "BERT: Pre-training of Deep {Bidirectional} Transformers",
  year = 2019,
}

@misc{notitle,
  author = {Nobody},
}`

const sampleBBL = `\begin{thebibliography}{10}

\bibitem{bahdanau2014}
D.~Bahdanau, K.~Cho, and Y.~Bengio.
\newblock Neural machine translation by jointly learning to align and
  translate.
\newblock {\em arXiv preprint arXiv:1409.0473}, 2014.

\bibitem[Smith]{smith2020}
J.~Smith.
\newblock A study of things.
\newblock In {\em Proceedings}, 2020.

\end{thebibliography}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseBibContent(t *testing.T) {
	entries := parseBibContent(sampleBib)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (entry without title dropped)", len(entries))
	}

	first := entries[0]
	if first.Key != "vaswani2017" {
		t.Errorf("Key = %q", first.Key)
	}
	if first.Title != "Attention Is All You Need" {
		t.Errorf("Title = %q", first.Title)
	}
	if first.Year != "2017" {
		t.Errorf("Year = %q", first.Year)
	}
	if first.ArXivID != "1706.03762" {
		t.Errorf("ArXivID = %q, want eprint ID", first.ArXivID)
	}

	second := entries[1]
	if second.Title != "BERT: Pre-training of Deep Bidirectional Transformers" {
		t.Errorf("Title = %q, want nested braces flattened", second.Title)
	}
	if second.Year != "2019" {
		t.Errorf("bare year = %q", second.Year)
	}
}

func TestParseBBLContent(t *testing.T) {
	entries := parseBBLContent(sampleBBL)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}

	first := entries[0]
	if first.Key != "bahdanau2014" {
		t.Errorf("Key = %q", first.Key)
	}
	if first.Authors != "D. Bahdanau, K. Cho, and Y. Bengio" {
		t.Errorf("Authors = %q", first.Authors)
	}
	if first.Title != "Neural machine translation by jointly learning to align and translate" {
		t.Errorf("Title = %q", first.Title)
	}
	if first.Year != "2014" {
		t.Errorf("Year = %q", first.Year)
	}
	if first.ArXivID != "1409.0473" {
		t.Errorf("ArXivID = %q", first.ArXivID)
	}

	if entries[1].Key != "smith2020" {
		t.Errorf("bracketed label not handled: %q", entries[1].Key)
	}
}

func TestParseInlineBibliography(t *testing.T) {
	tex := `\section{Conclusion}
Words.
\begin{thebibliography}{9}
\bibitem{knuth1984} Donald Knuth. {The TeXbook}. 1984.
\bibitem{lamport1994} Leslie Lamport. {LaTeX: A Document Preparation System}. 1994.
\end{thebibliography}`

	entries := parseInlineBibliography(tex)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Key != "knuth1984" || entries[0].Title != "The TeXbook" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
}

func TestParseInlineBibliography_NoEnv(t *testing.T) {
	if entries := parseInlineBibliography(`\section{Intro} nothing here`); entries != nil {
		t.Errorf("entries = %v, want nil", entries)
	}
}

func TestExtractCitations_TierOrder(t *testing.T) {
	t.Run("bib wins over bbl", func(t *testing.T) {
		dir := t.TempDir()
		src := &Source{
			CitationFiles: []string{
				writeFile(t, dir, "refs.bib", sampleBib),
				writeFile(t, dir, "refs.bbl", sampleBBL),
			},
		}
		entries := ExtractCitations(src)
		if len(entries) != 2 || entries[0].Key != "vaswani2017" {
			t.Errorf("expected .bib entries, got %+v", entries)
		}
	})

	t.Run("empty bib falls through to bbl", func(t *testing.T) {
		dir := t.TempDir()
		src := &Source{
			CitationFiles: []string{
				writeFile(t, dir, "refs.bib", "% nothing usable"),
				writeFile(t, dir, "refs.bbl", sampleBBL),
			},
			// Inline bibliography present, but tier 2 must win first.
			MainTex: `\begin{thebibliography}{1}\bibitem{z} Z. {Inline Title}. \end{thebibliography}`,
		}
		entries := ExtractCitations(src)
		if len(entries) != 2 || entries[0].Key != "bahdanau2014" {
			t.Errorf("expected .bbl entries, got %+v", entries)
		}
	})

	t.Run("inline bibliography as last text tier", func(t *testing.T) {
		src := &Source{
			MainTex: `\begin{thebibliography}{1}\bibitem{z} Z. {Inline Title}. \end{thebibliography}`,
		}
		entries := ExtractCitations(src)
		if len(entries) != 1 || entries[0].Title != "Inline Title" {
			t.Errorf("entries = %+v", entries)
		}
	})

	t.Run("no citations anywhere is legal", func(t *testing.T) {
		src := &Source{MainTex: `\section{Intro} text`}
		if entries := ExtractCitations(src); len(entries) != 0 {
			t.Errorf("entries = %+v, want none", entries)
		}
	})
}

func TestFindAllEmbeddedIDs(t *testing.T) {
	text := `See arXiv:2005.14165 and arxiv.org/abs/1706.03762v5 and arXiv:2005.14165 again.`
	ids := findAllEmbeddedIDs(text)
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want 2 distinct", ids)
	}
	if ids[0] != "2005.14165" || ids[1] != "1706.03762" {
		t.Errorf("ids = %v", ids)
	}
}
