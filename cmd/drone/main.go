// Command drone runs one flying agent: it orbits at assembly, flies
// through the defense zone toward its target, and reports status and
// position to the command center and artillery along the way.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/picogrid/drone-strike-sim/internal/drone"
	"github.com/picogrid/drone-strike-sim/internal/logx"
	"github.com/picogrid/drone-strike-sim/internal/paramfile"
)

var (
	logLevel string
	noColor  bool
)

var rootCmd = &cobra.Command{
	Use:   "drone <params-file> <global-id> <truck-id>",
	Short: "Run a single drone agent",
	Args:  cobra.ExactArgs(3),
	RunE:  runDrone,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDrone(cmd *cobra.Command, args []string) error {
	logx.SetLevel(logx.ParseLevel(logLevel))
	logx.SetNoColor(noColor)

	globalID, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid global id %q: %w", args[1], err)
	}
	truckID, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid truck id %q: %w", args[2], err)
	}
	log := logx.WithPrefix(fmt.Sprintf("DRONE %d", globalID))

	pf, err := paramfile.Load(args[0])
	if err != nil {
		log.Fatalf("%v", err)
	}

	cfg := drone.Config{
		BasePort:   pf.Int("BASE_PORT", 40000),
		GlobalID:   globalID,
		SwarmID:    truckID,
		VX:         pf.Float("VX", 10.0),
		VY:         pf.Float("VY", 10.0),
		R:          pf.Float("R", 5.0),
		ThetaStep:  pf.Float("THETA_STEP", 0.3),
		B:          pf.Float("B", 20.0),
		A:          pf.Float("A", 50.0),
		C:          pf.Float("C", 100.0),
		Q:          pf.Int("Q", 5),
		Z:          pf.Int("Z", 5),
		RandomSeed: int64(pf.Int("RANDOM_SEED", 0)),
	}

	d, err := drone.New(cfg, log)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer d.Close()

	d.SendHello()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warnf("interrupt received, shutting down")
		cancel()
	}()

	d.Run(ctx)
	return nil
}
