// Command horus-heartbeat is a read-only inspector for a scheduler's
// heartbeat file, in the same spirit as this module's other external
// counter-dumping tools: it never attaches to shared memory for writing, it
// only reads and prints.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/horus-robotics/horus/common/go/shmroot"
	"github.com/horus-robotics/horus/scheduler"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// Identity is the scheduler identity to read. Ignored when Path is
	// set.
	Identity string
	// Path overrides the heartbeat file's location directly.
	Path string
}

var rootCmd = &cobra.Command{
	Use:   "horus-heartbeat",
	Short: "Dump a HORUS scheduler's heartbeat file",
	RunE: func(rawCmd *cobra.Command, _ []string) error {
		return run(cmd)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.Identity, "identity", "i", "", "Scheduler identity (reads heartbeats/<identity> under the namespace root)")
	rootCmd.Flags().StringVarP(&cmd.Path, "path", "p", "", "Explicit path to a heartbeat file, overriding --identity")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	path := cmd.Path
	if path == "" {
		if cmd.Identity == "" {
			return fmt.Errorf("either --identity or --path is required")
		}
		var err error
		path, err = shmroot.PathFor(shmroot.HeartbeatsNamespace, cmd.Identity)
		if err != nil {
			return fmt.Errorf("resolve heartbeat path: %w", err)
		}
	}

	hb, err := scheduler.ReadHeartbeat(path)
	if err != nil {
		return fmt.Errorf("read heartbeat: %w", err)
	}

	fmt.Printf("scheduler: %s\n", hb.SchedulerIdentity)
	fmt.Printf("timestamp: %s\n", hb.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"))
	fmt.Printf("cycle:     %d\n\n", hb.CycleCount)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tPRIORITY\tTOTAL_TICKS\tMEAN_TICK_MS\tSENT\tRECEIVED")
	for _, n := range hb.Nodes {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.3f\t%d\t%d\n",
			n.Name, n.Priority, n.TotalTicks, n.MeanTickMs, n.MessagesSent, n.MessagesReceived)
	}
	return w.Flush()
}
