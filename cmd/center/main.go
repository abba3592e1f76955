// Command center runs the swarm-strike command center: the global
// swarm-state authority and cross-swarm reassignment arbiter.
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

	"github.com/picogrid/drone-strike-sim/internal/center"
	"github.com/picogrid/drone-strike-sim/internal/events"
	"github.com/picogrid/drone-strike-sim/internal/logx"
	"github.com/picogrid/drone-strike-sim/internal/paramfile"
)

var (
	logLevel string
	noColor  bool
	runID    string
	aarPath  string
)

var rootCmd = &cobra.Command{
	Use:   "center <params-file>",
	Short: "Run the drone-strike command center",
	Args:  cobra.ExactArgs(1),
	RunE:  runCenter,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&runID, "run-id", "", "operator-supplied correlation id (default: generated)")
	rootCmd.PersistentFlags().StringVar(&aarPath, "aar-file", "", "write an after-action YAML report to this path on exit (default: none)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCenter(cmd *cobra.Command, args []string) error {
	logx.SetLevel(logx.ParseLevel(logLevel))
	logx.SetNoColor(noColor)
	log := logx.WithPrefix("CENTER")

	if runID == "" {
		runID = uuid.NewString()
	}
	log.Infof("run id %s", runID)
	stream := events.NewStream(runID)

	pf, err := paramfile.Load(args[0])
	if err != nil {
		log.Fatalf("%v", err)
	}

	cfg := center.DefaultConfig()
	cfg.BasePort = pf.Int("BASE_PORT", cfg.BasePort)
	cfg.NumSwarms = pf.Int("NUM_SWARMS", cfg.NumSwarms)
	cfg.NumTargets = pf.Int("NUM_TARGETS", cfg.NumTargets)
	cfg.AssemblySize = pf.Int("ASSEMBLY_SIZE", cfg.AssemblySize)
	cfg.TargetX = pf.Float("C", cfg.TargetX)
	cfg.MaxWaitReassembly = time.Duration(pf.Float("MAX_WAIT_REASSEMBLY", cfg.MaxWaitReassembly.Seconds())) * time.Second
	cfg.RandomSeed = int64(pf.Int("RANDOM_SEED", 0))

	log.Debugf("%s", pf.Dump())

	c, err := center.New(cfg, log, stream)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warnf("interrupt received, shutting down")
		cancel()
	}()

	if err := c.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}
	log.Infof("%s", stream.Summary())

	if aarPath != "" {
		if err := stream.DumpYAML(aarPath); err != nil {
			log.Warnf("failed to write after-action report: %v", err)
		} else {
			log.Infof("after-action report written to %s", aarPath)
		}
	}
	return nil
}
