package sink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"klinelog/internal/models"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/afero"
)

// Archive stores records as a CBOR sequence next to the text log, keeping
// the full readings (names, units, raw floats) the text line drops.
type Archive struct {
	file afero.File
	enc  *cbor.Encoder
	path string
}

var encMode = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// OpenArchive creates (or appends to) log_<start>.cbor in dir.
func OpenArchive(fs afero.Fs, dir string, start time.Time) (*Archive, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, SessionFileName(start, "cbor"))
	f, err := fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return &Archive{file: f, enc: encMode.NewEncoder(f), path: path}, nil
}

func (a *Archive) Path() string {
	return a.path
}

func (a *Archive) Write(rec models.Record) error {
	if err := a.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return nil
}

func (a *Archive) Close() error {
	return a.file.Close()
}

// ReadArchive decodes every record of a CBOR archive in order and hands it
// to fn. It stops at the first error returned by fn.
func ReadArchive(fs afero.Fs, path string, fn func(models.Record) error) error {
	f, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	dec := cbor.NewDecoder(f)
	for {
		var rec models.Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode %s: %w", path, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
