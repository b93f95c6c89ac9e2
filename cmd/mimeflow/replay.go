package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lguibr/Mimeflow/internal/app"
	"github.com/lguibr/Mimeflow/internal/recording"
	"github.com/lguibr/Mimeflow/internal/service/session"
)

func newReplayCommand(ctx *commandContext) *cobra.Command {
	var ov session.Overrides
	var noSave bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "replay <recording>",
		Short: "Score a recorded pair of streams and print the final record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			c := *cfg
			if noSave {
				c.Leaderboard.Enabled = false
			}
			a, err := app.New(&c)
			if err != nil {
				return err
			}
			defer a.Shutdown()

			r, err := recording.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			if ov.ClipID == "" {
				ov.ClipID = r.Header().ClipID
			}
			opts, err := a.Options.Apply(ov)
			if err != nil {
				return err
			}
			s, err := a.Registry.Create(opts)
			if err != nil {
				return err
			}
			if err := s.MarkReady(); err != nil {
				return err
			}
			if err := s.Start(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rejected := 0
			for {
				msg, err := r.Next()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return fmt.Errorf("read %s: %w", args[0], err)
				}
				tick, err := a.Registry.Ingest(s.ID(), msg)
				if err != nil {
					if session.IsClientError(err) {
						rejected++
						continue
					}
					return err
				}
				if tick != nil && verbose {
					fmt.Fprintf(out, "tick %3d  similarity %.3f  score %3d  avg %5.1f%%  lag %d\n",
						tick.Sequence, tick.RawSimilarity, tick.History[len(tick.History)-1],
						tick.RunningAveragePercent, tick.Lag)
				}
			}

			rec, err := s.Finalize(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Session   %s\n", rec.SessionID)
			if rec.ClipID != "" {
				fmt.Fprintf(out, "Clip      %s\n", rec.ClipID)
			}
			if rec.PlayerName != "" {
				fmt.Fprintf(out, "Player    %s\n", rec.PlayerName)
			}
			fmt.Fprintf(out, "Score     %d%%\n", rec.Score)
			fmt.Fprintf(out, "Entries   %d\n", len(rec.History))
			fmt.Fprintf(out, "History   %s\n", formatHistory(rec.History))
			if rejected > 0 {
				fmt.Fprintf(out, "Rejected  %d frames\n", rejected)
			}
			if c.Leaderboard.Enabled {
				fmt.Fprintf(out, "Saved     %s\n", yesNo(s.Snapshot().Persisted))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ov.ClipID, "clip", "", "Clip id recorded with the score (defaults to the recording header)")
	cmd.Flags().StringVar(&ov.PlayerName, "player", "", "Player name recorded with the score")
	cmd.Flags().StringVar(&ov.Variant, "variant", "", "Feature variant override")
	cmd.Flags().StringVar(&ov.PausePolicy, "pause-policy", "", "Pause policy override")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "Do not write the score to the leaderboard")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every score tick")
	return cmd
}

func formatHistory(history []int) string {
	if len(history) == 0 {
		return "-"
	}
	parts := make([]string, len(history))
	for i, v := range history {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
