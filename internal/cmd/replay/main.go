package replay

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"time"

	"klinelog/internal/displayer"
	"klinelog/internal/feed"
	"klinelog/internal/models"
	"klinelog/internal/sink"
	"klinelog/pkg/log"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func Run(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	for _, path := range args {
		if err := Replay(ctx, afero.NewOsFs(), path, os.Stdout, viper.GetString("listen")); err != nil {
			log.Fatal("replay failed", zap.String("archive", path), zap.Error(err))
		}
	}
}

// Replay prints every record of a CBOR archive as a log line. With listen
// set, the records are also pushed to feed clients at their recorded pace.
func Replay(ctx context.Context, fs afero.Fs, path string, out io.Writer, listen string) error {
	console := displayer.New(out)
	if listen == "" {
		return sink.ReadArchive(fs, path, console.Write)
	}

	hub := feed.New()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Serve(gctx, listen)
	})
	g.Go(func() error {
		defer cancel()
		var prev time.Duration
		return sink.ReadArchive(fs, path, func(rec models.Record) error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-time.After(rec.Elapsed - prev):
			}
			prev = rec.Elapsed
			if err := console.Write(rec); err != nil {
				return err
			}
			return hub.Write(rec)
		})
	})
	err := g.Wait()
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
