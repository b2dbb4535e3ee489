// Command horusd is a demo scheduler daemon: it registers a small built-in
// node graph (a ticker publishing a counter topic and a watcher consuming
// it) and runs them to completion, the way a real deployment would wire its
// own nodes, following the same cobra/errgroup entrypoint shape as the
// rest of this module's commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/horus-robotics/horus/common/go/logging"
	"github.com/horus-robotics/horus/common/go/xcmd"
	"github.com/horus-robotics/horus/scheduler"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the scheduler configuration file. Empty
	// means run with scheduler.DefaultConfig().
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:   "horusd",
	Short: "HORUS scheduler daemon",
	Run: func(rawCmd *cobra.Command, _ []string) {
		if err := run(cmd); err != nil {
			var interrupted xcmd.Interrupted
			if errors.As(err, &interrupted) {
				return
			}

			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the scheduler configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	logCfg := &logging.Config{Level: zapcore.InfoLevel}
	log, _, err := logging.Init(logCfg)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	var cfg *scheduler.Config
	if cmd.ConfigPath != "" {
		cfg, err = scheduler.LoadConfig(cmd.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		cfg = scheduler.DefaultConfig()
	}

	sched, err := scheduler.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	if err := sched.Add(newTickerNode(), 0, scheduler.LoggingDefault); err != nil {
		return fmt.Errorf("failed to register ticker node: %w", err)
	}
	if err := sched.Add(newWatcherNode(), 10, scheduler.LoggingDefault); err != nil {
		return fmt.Errorf("failed to register watcher node: %w", err)
	}

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return sched.Run(ctx)
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx)
		log.Infof("caught signal: %v", err)
		sched.Stop()
		return err
	})

	return wg.Wait()
}
