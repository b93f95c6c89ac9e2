package main

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/lguibr/Mimeflow/internal/models"
	"github.com/lguibr/Mimeflow/internal/pose"
	"github.com/lguibr/Mimeflow/internal/recording"
	"github.com/lguibr/Mimeflow/internal/service/estimator/mock"
)

type synthOptions struct {
	out     string
	clipID  string
	frames  int
	fps     float64
	lag     int
	jitter  float64
	dropout float64
	seed    int64
}

func newSynthCommand() *cobra.Command {
	def := mock.DefaultConfig()
	opts := synthOptions{
		frames:  def.Frames,
		fps:     def.FrameRate,
		lag:     def.LiveLag,
		jitter:  def.Jitter,
		dropout: def.DropoutRate,
		seed:    def.Seed,
	}

	cmd := &cobra.Command{
		Use:         "synth",
		Short:       "Write a synthetic recording of the mock choreography",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := writeSynthetic(opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d frames to %s\n", n, opts.out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.out, "out", "o", "take.cbor", "Output path; .cbor writes CBOR, anything else JSON lines")
	cmd.Flags().StringVar(&opts.clipID, "clip", "", "Clip id stored in the header")
	cmd.Flags().IntVar(&opts.frames, "frames", opts.frames, "Reference frames")
	cmd.Flags().Float64Var(&opts.fps, "fps", opts.fps, "Frames per second per stream")
	cmd.Flags().IntVar(&opts.lag, "lag", opts.lag, "Frames the live stream trails the reference")
	cmd.Flags().Float64Var(&opts.jitter, "jitter", opts.jitter, "Positional noise on live joints")
	cmd.Flags().Float64Var(&opts.dropout, "dropout", opts.dropout, "Probability a live joint is missing")
	cmd.Flags().Int64Var(&opts.seed, "seed", opts.seed, "Noise seed")
	return cmd
}

// writeSynthetic interleaves the reference and the delayed live stream the
// same way the mock estimator emits them.
func writeSynthetic(o synthOptions) (int, error) {
	if o.frames <= 0 || o.fps <= 0 {
		return 0, errors.New("frames and fps must be positive")
	}
	sk := pose.BlazePose()
	w, err := recording.Create(o.out, recording.Header{
		Skeleton:  sk.Name,
		Joints:    sk.JointCount(),
		FrameRate: o.fps,
		ClipID:    o.clipID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return 0, err
	}

	rng := rand.New(rand.NewSource(o.seed))
	frameMs := 1000 / o.fps
	var seq int64
	for step := 0; step-o.lag < o.frames; step++ {
		offset := int64(float64(step) * frameMs)
		if step < o.frames {
			seq++
			if err := w.Write(models.NewFrameMessage("", pose.StreamReference, seq, offset, mock.Choreography(step, o.fps))); err != nil {
				_ = w.Close()
				return 0, err
			}
		}
		if live := step - o.lag; live >= 0 {
			seq++
			f := mock.Perturb(mock.Choreography(live, o.fps), rng, o.jitter, o.dropout)
			if err := w.Write(models.NewFrameMessage("", pose.StreamLive, seq, offset, f)); err != nil {
				_ = w.Close()
				return 0, err
			}
		}
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return int(seq), nil
}
