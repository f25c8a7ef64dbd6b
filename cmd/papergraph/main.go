// Package main provides the papergraph CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// A missing .env file is fine; the environment may carry the keys.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "papergraph",
	Short: "arXiv citation-graph ingestion pipeline",
	Long: `papergraph ingests academic papers from arXiv, expands the corpus by
following citation edges through Semantic Scholar, classifies and summarizes
each paper with an LLM, and persists the result to SQLite alongside a JSONL
run artifact.

Configuration lives in ~/.config/papergraph/config.yml; API keys can also be
supplied via S2_API_KEY and OPENROUTER_API_KEY (a .env file is honored).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = Version
}
