package cmd

import (
	"klinelog/internal/cmd/key"
	"klinelog/internal/cmd/pids"
	"klinelog/internal/cmd/ports"
	"klinelog/internal/cmd/replay"

	"github.com/spf13/cobra"
)

var keyCmd = &cobra.Command{
	Use:   "key <seed>...",
	Short: "Print the SecurityAccess key for a seed",
	Args:  cobra.MinimumNArgs(1),
	Run:   key.Run,
}

var pidsCmd = &cobra.Command{
	Use:   "pids",
	Short: "Dump the PID catalog as YAML",
	Args:  cobra.NoArgs,
	Run:   pids.Run,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports, marking matching adapters",
	Args:  cobra.NoArgs,
	Run:   ports.Run,
}

var replayCmd = &cobra.Command{
	Use:   "replay <archive>...",
	Short: "Print the records of CBOR archives, optionally feeding them to --listen",
	Args:  cobra.MinimumNArgs(1),
	Run:   replay.Run,
}

func init() {
	rootCmd.AddCommand(keyCmd, pidsCmd, portsCmd, replayCmd)
}
