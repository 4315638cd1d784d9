package attachment

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Protocol-Lattice/fingpt-relay/src/concurrent"
	"github.com/Protocol-Lattice/fingpt-relay/src/models"
)

var (
	ErrUnsupported = errors.New("attachment: no media type for file")
	ErrTooLarge    = errors.New("attachment: file too large")
)

// Dropped records a file that existed but could not be forwarded.
type Dropped struct {
	Path   string
	Reason error
}

// Loader reads files into parts. The zero value is ready to use.
type Loader struct {
	// MaxBytes caps the size of a single file; 0 means no limit.
	MaxBytes int64
	// Concurrency bounds parallel reads in LoadAll.
	Concurrency int
	Logger      *slog.Logger
}

// Load reads one file. Missing files and blank paths return an error
// matching fs.ErrNotExist.
func (l *Loader) Load(path string) (models.Part, error) {
	if strings.TrimSpace(path) == "" {
		return models.Part{}, &fs.PathError{Op: "load", Path: path, Err: fs.ErrNotExist}
	}
	st, err := os.Stat(path)
	if err != nil {
		return models.Part{}, err
	}
	if st.IsDir() {
		return models.Part{}, fmt.Errorf("%s: %w", path, ErrUnsupported)
	}
	if l != nil && l.MaxBytes > 0 && st.Size() > l.MaxBytes {
		return models.Part{}, fmt.Errorf("%s (%d bytes): %w", path, st.Size(), ErrTooLarge)
	}

	kind := Resolve(path)
	switch kind.Mode {
	case ModeTextTable:
		f, err := os.Open(path)
		if err != nil {
			return models.Part{}, err
		}
		defer f.Close()
		table, err := RenderCSV(f)
		if err != nil {
			return models.Part{}, fmt.Errorf("render %s: %w", filepath.Base(path), err)
		}
		return models.Part{Name: filepath.Base(path), Text: table}, nil
	case ModeBinary:
		data, err := os.ReadFile(path)
		if err != nil {
			return models.Part{}, err
		}
		return models.Blob(filepath.Base(path), kind.MIME, data), nil
	default:
		return models.Part{}, fmt.Errorf("%s: %w", path, ErrUnsupported)
	}
}

type loadResult struct {
	part models.Part
	err  error
	done bool
}

// LoadAll loads paths in order. Missing files are skipped silently; files that
// exist but cannot be read or typed are skipped and reported in dropped.
func (l *Loader) LoadAll(ctx context.Context, paths []string) (parts []models.Part, dropped []Dropped) {
	if len(paths) == 0 {
		return nil, nil
	}
	limit := 4
	if l != nil && l.Concurrency > 0 {
		limit = l.Concurrency
	}

	results, _ := concurrent.ParallelMap(ctx, paths, func(p string) (loadResult, error) {
		part, err := l.Load(p)
		return loadResult{part: part, err: err, done: true}, nil
	}, limit)

	for i, res := range results {
		path := paths[i]
		switch {
		case !res.done:
			// Not attempted because ctx ended first.
			continue
		case res.err == nil:
			parts = append(parts, res.part)
		case errors.Is(res.err, fs.ErrNotExist):
			l.logger().Debug("attachment_missing", "path", path)
		default:
			l.logger().Debug("attachment_dropped", "path", path, "reason", res.err.Error())
			dropped = append(dropped, Dropped{Path: path, Reason: res.err})
		}
	}
	return parts, dropped
}

func (l *Loader) logger() *slog.Logger {
	if l == nil || l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
