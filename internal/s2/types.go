package s2

// Wire types for the Semantic Scholar graph API (api.semanticscholar.org/graph/v1).

// s2Paper is the paper object returned by /paper/{id}.
type s2Paper struct {
	PaperID                  string        `json:"paperId"`
	Title                    string        `json:"title"`
	Abstract                 string        `json:"abstract"`
	Year                     int           `json:"year"`
	Venue                    string        `json:"venue"`
	Journal                  *s2Journal    `json:"journal"`
	URL                      string        `json:"url"`
	ExternalIDs              s2ExternalIDs `json:"externalIds"`
	Authors                  []s2Author    `json:"authors"`
	CitationCount            int           `json:"citationCount"`
	InfluentialCitationCount int           `json:"influentialCitationCount"`
	Citations                []s2Paper     `json:"citations"`
	References               []s2Paper     `json:"references"`
}

type s2Journal struct {
	Name string `json:"name"`
}

type s2ExternalIDs struct {
	DOI   string `json:"DOI"`
	ArXiv string `json:"ArXiv"`
}

type s2Author struct {
	AuthorID      string   `json:"authorId"`
	Name          string   `json:"name"`
	Affiliations  []string `json:"affiliations"`
	HIndex        *int     `json:"hIndex"`
	CitationCount *int     `json:"citationCount"`
}

// PaperMetadata is the bibliographic record the fetcher hands to the
// pipeline: catalog metadata plus author metrics.
type PaperMetadata struct {
	SemanticID               string
	Title                    string
	Year                     int
	Venue                    string
	Journal                  string
	URL                      string
	DOI                      string
	ArXivID                  string
	CitationCount            int
	InfluentialCitationCount int
	Authors                  []AuthorMetadata
}

// AuthorMetadata carries one author's identity and metrics, in catalog order.
type AuthorMetadata struct {
	Name          string
	AuthorID      string
	Affiliations  []string
	HIndex        *int
	CitationCount *int
	Order         int
}

// CitationRef is one entry in a paper's citation or reference list. It
// carries whatever subset of identity the catalog returned; entries without
// an ArXivID must be resolved by title before they can be pursued.
type CitationRef struct {
	Title      string
	ArXivID    string
	SemanticID string
	Year       int
}
