/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_autodj/internal/catalog"
	"github.com/friendsincode/grimnir_autodj/internal/db"
	"github.com/friendsincode/grimnir_autodj/internal/device"
	"github.com/friendsincode/grimnir_autodj/internal/orchestrator"
	"github.com/friendsincode/grimnir_autodj/internal/telemetry"
)

var (
	simulateChannel string
	simulateCount   int
	simulateSeed    uint64
	simulateAt      string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Print the play order a channel would produce",
	Long: `Run a channel against the configured catalog with a simulated device and
print the first N tracks it plays. Nothing is written to the database.

Examples:
  # Twenty tracks with a reproducible shuffle
  autodj simulate --channel 3f2c... --count 20 --seed 7

  # Evaluate time windows as of Saturday evening
  autodj simulate --channel 3f2c... --at 2026-03-14T19:30:00-05:00
`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simulateChannel, "channel", "", "Channel id (defaults to AUTODJ_CHANNEL_ID)")
	simulateCmd.Flags().IntVarP(&simulateCount, "count", "n", 20, "Number of tracks to play")
	simulateCmd.Flags().Uint64Var(&simulateSeed, "seed", 0, "Shuffle seed (0 = random)")
	simulateCmd.Flags().StringVar(&simulateAt, "at", "", "Fixed RFC 3339 clock for time windows (default: now)")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if simulateChannel == "" {
		simulateChannel = cfg.DefaultChannelID
	}
	if simulateChannel == "" {
		return fmt.Errorf("--channel is required")
	}

	opts := orchestrator.OptionsFromConfig(simulateChannel, cfg)
	if simulateAt != "" {
		at, err := time.Parse(time.RFC3339, simulateAt)
		if err != nil {
			return fmt.Errorf("parse --at: %w", err)
		}
		opts.Now = func() time.Time { return at }
	}
	if simulateSeed != 0 {
		opts.Seed1 = simulateSeed
		opts.Seed2 = simulateSeed ^ 0x9e3779b97f4a7c15
	}

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	loader := catalog.NewLoader(catalog.NewGormStore(database), logger)
	return simulate(cmd.Context(), cmd.OutOrStdout(), loader, opts, simulateCount, logger)
}

// playSink hands now-playing notifications to the simulation loop.
type playSink chan telemetry.NowPlaying

func (s playSink) NotifyNowPlaying(ctx context.Context, np telemetry.NowPlaying) error {
	select {
	case s <- np:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// simulate plays count tracks, ending each as soon as it starts.
func simulate(ctx context.Context, out io.Writer, loader orchestrator.CatalogLoader, opts orchestrator.Options, count int, logger zerolog.Logger) error {
	cat, err := loader.Load(ctx, opts.ChannelID)
	if err != nil {
		return err
	}

	opts.Autoplay = true
	opts.MinChangeInterval = 0

	sim := device.NewSimulated(device.SimulatedOptions{})
	plays := make(playSink)
	o := orchestrator.New(opts, orchestrator.Deps{
		Loader: loader,
		Device: sim,
		Sink:   plays,
		Logger: logger,
	})
	if err := o.Start(ctx); err != nil {
		return err
	}
	defer o.Stop(context.Background())

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSOURCE\tPLAYLIST\tTITLE\tARTIST")
	for i := 1; i <= count; i++ {
		select {
		case np := <-plays:
			name := np.PlaylistID
			if p, ok := cat.Playlist(np.PlaylistID); ok {
				name = p.Name
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i, np.Source, name, np.Title, np.Artist)
			sim.End()
		case <-time.After(5 * time.Second):
			_ = tw.Flush()
			st := o.State()
			return fmt.Errorf("no track started after %d plays: %s", i-1, st.Error.LastError)
		case <-ctx.Done():
			_ = tw.Flush()
			return ctx.Err()
		}
	}
	return tw.Flush()
}
