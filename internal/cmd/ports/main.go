package ports

import (
	"fmt"
	"io"
	"os"

	"klinelog/internal/obd/serial"
	"klinelog/pkg/log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func Run(cmd *cobra.Command, args []string) {
	ports, err := serial.ListPorts()
	if err != nil {
		log.Fatal("failed to list ports", zap.Error(err))
	}
	Print(os.Stdout, ports, viper.GetString("vid"), viper.GetString("pid"))
}

// Print lists ports, marking the ones matching the configured adapter.
func Print(w io.Writer, ports []*serial.Adapter, vid, pid string) {
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return
	}
	matches := make(map[*serial.Adapter]bool)
	for _, p := range serial.MatchAdapters(ports, vid, pid) {
		matches[p] = true
	}
	for _, p := range ports {
		mark := " "
		if matches[p] {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %s\n", mark, p)
	}
}
