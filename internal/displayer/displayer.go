package displayer

import (
	"fmt"
	"io"
	"sync"

	"klinelog/internal/models"
	"klinelog/internal/obd"

	"github.com/fatih/color"
)

var (
	blue  = color.New(color.FgHiBlue).SprintfFunc()
	red   = color.New(color.FgRed).SprintfFunc()
	green = color.New(color.FgGreen).SprintfFunc()
	bold  = color.New(color.Bold).SprintfFunc()
)

// Console mirrors every record to a terminal. The line itself is printed
// exactly as it is written to the log file; only the elapsed column is
// colored.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// New creates a console observer writing to out, or to color.Output when
// out is nil.
func New(out io.Writer) *Console {
	if out == nil {
		out = color.Output
	}
	return &Console{out: out}
}

func (c *Console) Write(rec models.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	line := rec.Line()
	elapsed := rec.ElapsedField()
	_, err := fmt.Fprintf(c.out, "%s%s\n", green("%s", elapsed), line[len(elapsed):])
	return err
}

// Banner prints the session summary once the ECU is connected.
func (c *Console) Banner(s *obd.Session, logPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := s.Config()
	fmt.Fprintln(c.out, bold("connected: %s init, %d attempt(s)", cfg.Variant, s.Attempts()))
	if logPath != "" {
		fmt.Fprintln(c.out, "logging to "+bold("%s", logPath))
	}
}

// Failure prints a connection or polling failure.
func (c *Console) Failure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, red("error: %v", err))
}

// Tracer returns a frame tracer printing sent frames in blue and received
// frames in green.
func (c *Console) Tracer() obd.Tracer {
	return func(tx bool, frame []byte) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if tx {
			fmt.Fprintln(c.out, blue(">> %s", obd.HexString(frame)))
			return
		}
		fmt.Fprintln(c.out, green("<< %s", obd.HexString(frame)))
	}
}
