package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/prepwatch/internal/config"
	"github.com/blackwell-systems/prepwatch/internal/fetcher"
	"github.com/blackwell-systems/prepwatch/internal/output"
	"github.com/blackwell-systems/prepwatch/internal/store"
)

var cacheClear string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the local caches",
	Long: `Show what the local database holds: the cached opening books per
backend and the engine evaluation cache. With --clear, drop one backend's
positions (for example after an opponent's style has changed).

Examples:
  prepwatch cache
  prepwatch cache --json
  prepwatch cache --clear lichess_player_theirtag_white_blitz`,
	RunE: runCache,
}

func init() {
	cacheCmd.Flags().StringVar(&cacheClear, "clear", "", "Delete all cached positions for this backend")
	rootCmd.AddCommand(cacheCmd)
}

func runCache(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(flagConfig); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupOutput()

	db, err := store.Open(config.DBPath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if cacheClear != "" {
		deleted, err := db.DeleteBackend(cacheClear)
		if err != nil {
			return fmt.Errorf("clearing backend: %w", err)
		}
		fmt.Printf("Deleted %d positions from %s\n", deleted, cacheClear)
		return nil
	}

	backends, err := db.ExplorerStats()
	if err != nil {
		return err
	}
	evals, err := db.EvalCacheStats()
	if err != nil {
		return err
	}

	if flagJSON {
		type backendJSON struct {
			Backend   string `json:"backend"`
			Positions int    `json:"positions"`
		}
		payload := struct {
			Backends []backendJSON `json:"backends"`
			Evals    struct {
				Positions int `json:"positions"`
				MinDepth  int `json:"min_depth"`
				MaxDepth  int `json:"max_depth"`
			} `json:"eval_cache"`
		}{}
		for _, b := range backends {
			payload.Backends = append(payload.Backends, backendJSON{b.Backend, b.Positions})
		}
		payload.Evals.Positions = evals.Positions
		payload.Evals.MinDepth = evals.MinDepth
		payload.Evals.MaxDepth = evals.MaxDepth
		raw, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil
	}

	fmt.Println(output.Section("Opening books"))
	table := output.NewTable("Backend", "Positions", "Games", "Last fetch")
	for _, b := range backends {
		games, fetched := "-", "-"
		if meta, err := fetcher.ReadMeta(db, b.Backend); err == nil && meta != nil {
			games = fmt.Sprintf("%d", meta.Games)
			fetched = meta.FetchedAt
		}
		table.AddRow(b.Backend, fmt.Sprintf("%d", b.Positions), games, fetched)
	}
	if table.Len() == 0 {
		fmt.Println("No cached books. Run 'prepwatch fetch' to build one.")
	} else {
		table.Print()
	}

	fmt.Println(output.Section("Engine evaluations"))
	if evals.Positions == 0 {
		fmt.Println("No cached evaluations.")
		return nil
	}
	fmt.Printf("%d positions, depths %d to %d\n", evals.Positions, evals.MinDepth, evals.MaxDepth)
	return nil
}
