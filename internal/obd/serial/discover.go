package serial

import (
	"errors"
	"fmt"
	"strings"

	"klinelog/pkg/log"

	"github.com/manifoldco/promptui"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

// FTDI FT232R, the usual chip in VAG-COM style K-line cables.
const (
	DefaultVID = "0403"
	DefaultPID = "6001"
)

var ErrNoAdapter = errors.New("no matching USB serial adapter found")

// Adapter describes one serial port seen by the OS.
type Adapter struct {
	Name    string
	USB     bool
	VID     string
	PID     string
	Serial  string
	Product string
}

func (a *Adapter) String() string {
	if !a.USB {
		return a.Name
	}
	s := fmt.Sprintf("%s [%s:%s]", a.Name, a.VID, a.PID)
	if a.Product != "" {
		s += " " + a.Product
	}
	if a.Serial != "" {
		s += " sn " + a.Serial
	}
	return s
}

var listPorts = enumerator.GetDetailedPortsList

// ListPorts returns every serial port the OS reports.
func ListPorts() ([]*Adapter, error) {
	details, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}
	out := make([]*Adapter, 0, len(details))
	for _, d := range details {
		out = append(out, &Adapter{
			Name:    d.Name,
			USB:     d.IsUSB,
			VID:     d.VID,
			PID:     d.PID,
			Serial:  d.SerialNumber,
			Product: d.Product,
		})
	}
	return out, nil
}

// MatchAdapters keeps the USB ports with the given vendor and product id.
// An empty pid matches any product of the vendor.
func MatchAdapters(ports []*Adapter, vid, pid string) []*Adapter {
	var out []*Adapter
	for _, p := range ports {
		if !p.USB || !strings.EqualFold(p.VID, vid) {
			continue
		}
		if pid != "" && !strings.EqualFold(p.PID, pid) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// PromptAdapter asks the user to pick one of several adapters.
func PromptAdapter(ports []*Adapter) (*Adapter, error) {
	prompt := promptui.Select{
		Label: "Several K-line adapters found, select one",
		Items: ports,
	}
	i, _, err := prompt.Run()
	if err != nil {
		return nil, fmt.Errorf("select adapter: %w", err)
	}
	return ports[i], nil
}

func resolvePort(opts Options) (string, error) {
	if opts.Port != "" {
		return opts.Port, nil
	}

	vid := opts.VID
	if vid == "" {
		vid = DefaultVID
	}
	ports, err := ListPorts()
	if err != nil {
		return "", err
	}
	matches := MatchAdapters(ports, vid, opts.PID)

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w (vid %s pid %s)", ErrNoAdapter, vid, opts.PID)
	case 1:
		log.Info("adapter found", zap.Stringer("adapter", matches[0]))
		return matches[0].Name, nil
	}

	choose := opts.Choose
	if choose == nil {
		choose = PromptAdapter
	}
	a, err := choose(matches)
	if err != nil {
		return "", err
	}
	return a.Name, nil
}
