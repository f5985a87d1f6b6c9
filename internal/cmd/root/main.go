package root

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"klinelog/internal/config"
	"klinelog/internal/displayer"
	"klinelog/internal/feed"
	"klinelog/internal/obd"
	"klinelog/internal/obd/mock"
	"klinelog/internal/obd/serial"
	"klinelog/internal/poller"
	"klinelog/internal/sink"
	"klinelog/pkg/log"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func Run(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := Env{
		Fs:       afero.NewOsFs(),
		Progress: ansi.NewAnsiStderr(),
		Open:     OpenTransport,
	}
	if err := Logger(ctx, cfg, env); err != nil {
		log.Fatal("logger stopped", zap.Error(err))
	}
}

// Env holds what a logging run touches outside the protocol engine.
type Env struct {
	Fs       afero.Fs
	Out      io.Writer
	Progress io.Writer
	Open     func(ctx context.Context, cfg config.Config) (obd.Transport, error)
	Options  []obd.Option
}

// OpenTransport opens the simulated ECU or the USB adapter.
func OpenTransport(ctx context.Context, cfg config.Config) (obd.Transport, error) {
	if cfg.Mock {
		log.Info("using simulated ECU")
		return mock.New(mock.WithSeed(time.Now().UnixNano())), nil
	}
	t, err := serial.Open(ctx, cfg.Serial())
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Logger connects to the ECU and polls it until ctx is cancelled, the
// cycle limit is reached or the line dies.
func Logger(ctx context.Context, cfg config.Config, env Env) error {
	groups, err := poller.SelectGroups(cfg.Groups)
	if err != nil {
		return err
	}

	transport, err := env.Open(ctx, cfg)
	if err != nil {
		return err
	}

	console := displayer.New(env.Out)
	opts := []obd.Option{obd.WithTracer(console.Tracer())}
	sessionCfg := cfg.Session()
	if sessionCfg.Variant == obd.SlowInit && env.Progress != nil {
		opts = append(opts, obd.WithWakeProgress(wakeBar(env.Progress)))
	}
	opts = append(opts, env.Options...)

	session := obd.NewSession(transport, sessionCfg, opts...)
	defer session.Close()

	if err := session.Connect(ctx); err != nil {
		console.Failure(err)
		return fmt.Errorf("connect: %w", err)
	}

	text, err := sink.OpenTextLog(env.Fs, cfg.LogDir, time.Now())
	if err != nil {
		return err
	}
	defer text.Close()
	console.Banner(session, text.Path())

	sinks := []poller.Sink{text, console}
	if cfg.Archive {
		archive, err := sink.OpenArchive(env.Fs, cfg.LogDir, time.Now())
		if err != nil {
			return err
		}
		defer archive.Close()
		sinks = append(sinks, archive)
	}

	var hub *feed.Hub
	if cfg.Listen != "" {
		hub = feed.New()
		sinks = append(sinks, hub)
	}

	p := poller.New(session, groups, sinks...)
	p.SetMaxCycles(cfg.Cycles)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if hub != nil {
		g.Go(func() error {
			return hub.Serve(gctx, cfg.Listen)
		})
	}
	g.Go(func() error {
		defer cancel()
		return p.Run(gctx)
	})
	err = g.Wait()

	stats := p.Stats()
	log.Info("logging finished",
		zap.Int("cycles", stats.Cycles),
		zap.Any("skipped", stats.Skipped),
		zap.String("file", text.Path()),
	)
	if err != nil {
		console.Failure(err)
	}
	return err
}

// wakeBar shows the 5 baud address transmission, which takes two seconds.
func wakeBar(w io.Writer) func(bit, total int) {
	var bar *progressbar.ProgressBar
	return func(bit, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(
				total,
				progressbar.OptionSetWriter(w),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(20),
				progressbar.OptionSetDescription("5 baud address"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
			)
		}
		bar.Set(bit)
		if bit == total {
			bar.Finish()
			fmt.Fprintln(w)
		}
	}
}
