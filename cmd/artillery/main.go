// Command artillery runs the defense station: it tracks drones in
// flight and periodically engages whichever ones are in its defense
// zone.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/picogrid/drone-strike-sim/internal/artillery"
	"github.com/picogrid/drone-strike-sim/internal/events"
	"github.com/picogrid/drone-strike-sim/internal/logx"
	"github.com/picogrid/drone-strike-sim/internal/paramfile"
)

var (
	logLevel string
	noColor  bool
	runID    string
)

var rootCmd = &cobra.Command{
	Use:   "artillery <params-file>",
	Short: "Run the artillery defense station",
	Args:  cobra.ExactArgs(1),
	RunE:  runArtillery,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&runID, "run-id", "", "operator-supplied correlation id (default: generated)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runArtillery(cmd *cobra.Command, args []string) error {
	logx.SetLevel(logx.ParseLevel(logLevel))
	logx.SetNoColor(noColor)
	log := logx.WithPrefix("ARTILLERY")

	if runID == "" {
		runID = uuid.NewString()
	}
	stream := events.NewStream(runID)

	pf, err := paramfile.Load(args[0])
	if err != nil {
		log.Fatalf("%v", err)
	}

	cfg := artillery.DefaultConfig()
	cfg.BasePort = pf.Int("BASE_PORT", cfg.BasePort)
	cfg.W = pf.Int("W", cfg.W)
	cfg.B = pf.Float("B", cfg.B)
	cfg.A = pf.Float("A", cfg.A)
	cfg.EngagementRate = time.Duration(pf.Float("ARTILLERY_RATE", cfg.EngagementRate.Seconds())) * time.Second
	cfg.RandomSeed = int64(pf.Int("RANDOM_SEED", 0))

	log.Infof("defense zone %.1f <= x <= %.1f, hit chance %d%%", cfg.B, cfg.A, cfg.W)

	station, err := artillery.New(cfg, log, stream)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer station.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warnf("interrupt received, shutting down")
		cancel()
	}()

	station.Run(ctx)
	log.Infof("%s", stream.Summary())
	return nil
}
