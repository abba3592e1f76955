// Command truck runs one truck process: it spawns a fixed cohort of
// drone agents and relays TARGET/TAKEOFF/REASSIGN_ONE_TO between them
// and the command center. All authoritative state lives in the center.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/picogrid/drone-strike-sim/internal/logx"
	"github.com/picogrid/drone-strike-sim/internal/paramfile"
	"github.com/picogrid/drone-strike-sim/internal/truck"
)

var (
	logLevel    string
	noColor     bool
	droneBinary string
)

var rootCmd = &cobra.Command{
	Use:   "truck <params-file> <truck-id>",
	Short: "Run a truck that spawns and relays for one drone cohort",
	Args:  cobra.ExactArgs(2),
	RunE:  runTruck,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.Flags().StringVar(&droneBinary, "drone-binary", "./drone", "path to the drone binary to spawn")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runTruck(cmd *cobra.Command, args []string) error {
	logx.SetLevel(logx.ParseLevel(logLevel))
	logx.SetNoColor(noColor)

	truckID, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid truck id %q: %w", args[1], err)
	}
	log := logx.WithPrefix(fmt.Sprintf("TRUCK %d", truckID))

	pf, err := paramfile.Load(args[0])
	if err != nil {
		log.Fatalf("%v", err)
	}

	cfg := truck.Config{
		BasePort:     pf.Int("BASE_PORT", 40000),
		TruckID:      truckID,
		AssemblySize: pf.Int("ASSEMBLY_SIZE", 5),
		ParamsPath:   args[0],
		DroneBinary:  droneBinary,
	}

	t, err := truck.New(cfg, log)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer t.Close()

	t.AnnounceReady()
	if err := t.SpawnDrones(); err != nil {
		log.Fatalf("%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warnf("interrupt received, shutting down")
		cancel()
	}()

	t.Run(ctx)
	return nil
}
