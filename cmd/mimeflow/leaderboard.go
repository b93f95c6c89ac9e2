package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lguibr/Mimeflow/internal/leaderboard"
)

func newLeaderboardCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "leaderboard [clip-id]",
		Short: "Show the best scores of a clip, or every clip when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = cfg.Leaderboard.TopN
			}
			store, err := leaderboard.OpenReadOnly(cfg.Leaderboard.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				clips, err := store.Clips(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, clips)
				}
				printClips(out, clips)
				return nil
			}

			entries, err := store.Top(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, entries)
			}
			printEntries(out, args[0], entries)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of scores to show (defaults to leaderboard.top_n)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func printClips(out io.Writer, clips []leaderboard.ClipSummary) {
	if len(clips) == 0 {
		fmt.Fprintln(out, "No scores recorded yet")
		return
	}
	rows := make([][]string, 0, len(clips))
	for _, c := range clips {
		rows = append(rows, []string{
			c.ClipID,
			strconv.Itoa(c.Sessions),
			strconv.Itoa(c.BestScore),
			fmt.Sprintf("%.1f", c.Average),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Clip", "Sessions", "Best", "Average"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
	))
}

func printEntries(out io.Writer, clipID string, entries []leaderboard.Entry) {
	if len(entries) == 0 {
		fmt.Fprintf(out, "No scores for clip %s\n", clipID)
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		player := e.PlayerName
		if player == "" {
			player = "-"
		}
		rows = append(rows, []string{
			strconv.Itoa(e.Rank),
			player,
			strconv.Itoa(e.Score) + "%",
			e.RecordedAt.Local().Format("2006-01-02 15:04"),
			e.SessionID,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"#", "Player", "Score", "Date", "Session"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft},
	))
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
