package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"klinelog/internal/models"
	"klinelog/pkg/log"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const timestampLayout = "20060102_150405"

// SessionFileName names a log file after the session start time.
func SessionFileName(start time.Time, ext string) string {
	return fmt.Sprintf("log_%s.%s", start.Format(timestampLayout), ext)
}

// TextLog appends one line per record to a session file.
type TextLog struct {
	file afero.File
	path string
}

// OpenTextLog creates (or appends to) log_<start>.txt in dir.
func OpenTextLog(fs afero.Fs, dir string, start time.Time) (*TextLog, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, SessionFileName(start, "txt"))
	f, err := fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.Info("logging to file", zap.String("path", path))
	return &TextLog{file: f, path: path}, nil
}

func (t *TextLog) Path() string {
	return t.path
}

func (t *TextLog) Write(rec models.Record) error {
	if _, err := t.file.WriteString(rec.Line() + "\n"); err != nil {
		return fmt.Errorf("write %s: %w", t.path, err)
	}
	return nil
}

func (t *TextLog) Close() error {
	if err := t.file.Sync(); err != nil {
		log.Warn("failed to sync log file", zap.Error(err))
	}
	return t.file.Close()
}
