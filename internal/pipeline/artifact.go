package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/matsen/papergraph/internal/paper"
)

// WriteArtifact writes the run's handoff artifact: one JSON object per paper,
// line-delimited, followed by a single trailing record holding the full
// citation-edge map. The write is atomic (temp file + rename) so a crashed
// run never leaves a truncated artifact behind.
func WriteArtifact(path string, papers []*paper.Paper, edges []paper.Edge) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*.jsonl")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	enc := json.NewEncoder(tmpFile)
	for _, p := range papers {
		if err := enc.Encode(p); err != nil {
			tmpFile.Close()
			return fmt.Errorf("encoding paper %s: %w", p.CanonicalID, err)
		}
	}

	trailer := struct {
		CitationLinks []paper.Edge `json:"citation_links"`
	}{CitationLinks: edges}
	if trailer.CitationLinks == nil {
		trailer.CitationLinks = []paper.Edge{}
	}
	if err := enc.Encode(trailer); err != nil {
		tmpFile.Close()
		return fmt.Errorf("encoding citation links: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}
