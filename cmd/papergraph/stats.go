package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/matsen/papergraph/internal/config"
	"github.com/matsen/papergraph/internal/sink"
	"github.com/spf13/cobra"
)

var statsDB string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store counts (papers, edges, embeddings, vocabulary)",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsDB, "db", "", "SQLite store path (default from config)")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitConfigError)
	}
	if statsDB != "" {
		cfg.DBPath = statsDB
	}

	db, err := sink.OpenDB(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: opening store %s: %s\n", cfg.DBPath, err)
		os.Exit(ExitSinkError)
	}
	defer db.Close()

	papers, err := db.CountPapers()
	if err != nil {
		return err
	}
	edges, err := db.CountEdges()
	if err != nil {
		return err
	}
	embeddings, err := db.CountEmbeddings()
	if err != nil {
		return err
	}
	keywords, err := db.Keywords()
	if err != nil {
		return err
	}
	domains, err := db.Domains()
	if err != nil {
		return err
	}

	out := struct {
		DBPath     string   `json:"db_path"`
		Papers     int      `json:"papers"`
		Edges      int      `json:"edges"`
		Embeddings int      `json:"embeddings"`
		Keywords   int      `json:"keywords"`
		Domains    []string `json:"domains"`
	}{cfg.DBPath, papers, edges, embeddings, len(keywords), domains}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
