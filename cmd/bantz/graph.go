package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newGraphCmd groups the long-term memory inspection surface: the kept,
// adapted vector memory component is an ops tool, never part of a turn's
// control flow.
func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "inspect long-term memory (the entity co-occurrence graph)",
	}
	cmd.AddCommand(newGraphStatsCmd(), newGraphSearchCmd(), newGraphNeighborsCmd(), newGraphDecayCmd())
	return cmd
}

func newGraphStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "print entry and entity counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, log, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			defer log.Sync()

			stats, err := rt.Memory.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			fmt.Printf("entries: %d\nentities: %d\n", stats.EntryCount, stats.EntityCount)
			if !stats.OldestAt.IsZero() {
				fmt.Printf("oldest:  %s\nnewest:  %s\n", stats.OldestAt.Format(time.RFC3339), stats.NewestAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newGraphSearchCmd() *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "recall the top-K memory entries matching query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, log, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			defer log.Sync()

			results, err := rt.Memory.Recall(cmd.Context(), args[0], topK, nil)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			for _, e := range results {
				fmt.Printf("%s\t%.3f\t%s\n", e.ID, e.Score, e.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&topK, "top", 5, "number of results to return")
	return cmd
}

func newGraphNeighborsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "neighbors <entity>",
		Short: "list entities most often co-occurring with entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, log, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			defer log.Sync()

			for _, n := range rt.Memory.Neighbors(args[0], limit) {
				fmt.Printf("%s\t%d\n", n.Entity, n.Weight)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum neighbors to return")
	return cmd
}

func newGraphDecayCmd() *cobra.Command {
	var halfLifeHours int
	var minWeight float64
	cmd := &cobra.Command{
		Use:   "decay",
		Short: "apply time-decay to every memory entry, evicting stale ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			if halfLifeHours <= 0 {
				return newUsageError("--half-life-hours must be positive, got %d", halfLifeHours)
			}
			rt, log, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			defer log.Sync()

			evicted, err := rt.Memory.Decay(cmd.Context(), time.Duration(halfLifeHours)*time.Hour, float32(minWeight))
			if err != nil {
				return fmt.Errorf("decay: %w", err)
			}
			fmt.Printf("evicted %d entries\n", evicted)
			return nil
		},
	}
	cmd.Flags().IntVar(&halfLifeHours, "half-life-hours", int(defaultHalfLifeHours()), "half-life in hours before an entry's weight halves")
	cmd.Flags().Float64Var(&minWeight, "min-weight", 0.1, "entries decayed below this weight are evicted")
	return cmd
}

func defaultHalfLifeHours() float64 {
	return 24 * 30
}
