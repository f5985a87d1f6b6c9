package pids

import (
	"fmt"
	"io"
	"os"

	"klinelog/internal/obd"
	"klinelog/internal/poller"
	"klinelog/pkg/log"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Entry is the YAML form of one catalog PID.
type Entry struct {
	Name        string   `yaml:"name"`
	Service     string   `yaml:"service"`
	Frame       string   `yaml:"frame"`
	ResponseLen int      `yaml:"response_len"`
	Immediate   bool     `yaml:"immediate,omitempty"`
	Group       string   `yaml:"group,omitempty"`
	Fields      []string `yaml:"fields,omitempty"`
}

func Run(cmd *cobra.Command, args []string) {
	if err := Dump(os.Stdout); err != nil {
		log.Fatal("failed to dump catalog", zap.Error(err))
	}
}

// Dump writes the PID catalog, with the polling group decoding each PID,
// as a YAML document.
func Dump(w io.Writer) error {
	entries := make([]Entry, 0, len(obd.Catalog))
	for _, p := range obd.Catalog {
		e := Entry{
			Name:        p.Name,
			Service:     fmt.Sprintf("0x%02X", p.Service()),
			Frame:       obd.HexString(p.Frame()),
			ResponseLen: p.ResponseLen,
			Immediate:   p.Immediate,
		}
		for _, g := range poller.DefaultGroups {
			if g.PID.Name == p.Name {
				e.Group = g.Name
				e.Fields = poller.FieldNames(g)
			}
		}
		entries = append(entries, e)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"pids": entries}); err != nil {
		return err
	}
	return enc.Close()
}
