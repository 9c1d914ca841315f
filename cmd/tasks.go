package main

import (
	"context"
	"encoding/json"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

// TasksCmd prints the tasks that the last run left pending.
func TasksCmd() *cobra.Command {
	var chain string

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Print the pending tasks recorded by the relayer",
		Run: func(c *cobra.Command, _ []string) {
			cfg, _ := loadConfig(c)
			ctx := context.Background()

			s, err := openStores(ctx, cfg)
			if err != nil {
				panic(err)
			}
			defer s.Close()

			snapshot, err := s.tasks.FetchPending(ctx)
			if err != nil {
				panic(err)
			}

			type row struct {
				Key     string            `json:"key"`
				Origin  string            `json:"origin"`
				Pending []string          `json:"pending"`
				Heights map[string]uint64 `json:"heights,omitempty"`
			}
			rows := make([]row, 0, len(snapshot))
			for key, entry := range snapshot {
				if chain != "" && !entry.IsPending(chain) {
					continue
				}
				rows = append(rows, row{
					Key:     key.String(),
					Origin:  entry.OriginChain,
					Pending: entry.Pending,
					Heights: entry.Heights,
				})
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(rows); err != nil {
				panic(err)
			}
		},
	}

	cmd.Flags().StringVar(&chain, "chain", "", "only print tasks pending on this chain")
	return cmd
}
