package texsrc

import (
	"strings"

	"github.com/ledongthuc/pdf"
)

// pdfMaxPages bounds how much of a bundled PDF is scanned for references.
const pdfMaxPages = 50

// pdfText extracts plain text from a PDF file.
func pdfText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	maxPages := r.NumPage()
	if maxPages > pdfMaxPages {
		maxPages = pdfMaxPages
	}

	var builder strings.Builder
	for i := 1; i <= maxPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}
