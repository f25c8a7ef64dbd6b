package texsrc

import (
	"regexp"
	"strings"

	"github.com/matsen/papergraph/internal/paper"
)

var (
	sectionHeading = regexp.MustCompile(`\\section\*?\{([^}]*)\}`)
	tableEnv       = regexp.MustCompile(`(?s)\\begin\{table\*?\}(.*?)\\end\{table\*?\}`)
)

// ParseSections splits LaTeX content on \section headings into an ordered
// section map. Table environments are stripped from section bodies and
// returned separately. A document with no \section headings yields an empty
// map, which downstream validation treats as an invalid paper.
func ParseSections(tex string) (*paper.SectionMap, []string) {
	sections := paper.NewSectionMap()
	var tables []string

	headings := sectionHeading.FindAllStringSubmatchIndex(tex, -1)
	for i, h := range headings {
		name := strings.TrimSpace(tex[h[2]:h[3]])
		start := h[1]
		end := len(tex)
		if i+1 < len(headings) {
			end = headings[i+1][0]
		}
		body := tex[start:end]

		for _, tm := range tableEnv.FindAllStringSubmatch(body, -1) {
			tables = append(tables, tm[1])
		}
		body = tableEnv.ReplaceAllString(body, "")

		sections.Set(name, strings.TrimSpace(body))
	}

	return sections, tables
}
