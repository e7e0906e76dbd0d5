// Package cachestore writes the compiled stylesheet to disk and tells
// downstream caches about it.
package cachestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/orgrosua/yabe-siul/internal/infrastructure/monitoring"
	"github.com/orgrosua/yabe-siul/internal/shared/id"
)

// FileName is the artifact's name inside the cache directory.
const FileName = "tailwind.css"

// ErrNotFound is returned when no artifact has been written yet.
var ErrNotFound = errors.New("cachestore: artifact not found")

// Artifact describes one written stylesheet.
type Artifact struct {
	ID          id.ArtifactID `json:"id"`
	File        string        `json:"file"`
	Size        int           `json:"size"`
	Fingerprint string        `json:"fingerprint"`
	Compressed  bool          `json:"compressed"`
	WrittenAt   time.Time     `json:"written_at"`
}

// FileStore keeps the artifact at <dir>/tailwind.css. Writes replace the file
// atomically so readers never see a partial stylesheet.
type FileStore struct {
	dir         string
	gzip        bool
	invalidator Invalidator
	logger      *zap.Logger
	metrics     *monitoring.Metrics

	mu   sync.RWMutex
	last *Artifact
}

// Options configures a FileStore.
type Options struct {
	Dir         string
	Gzip        bool
	Invalidator Invalidator
}

// New creates the cache directory if needed.
func New(opts Options, logger *zap.Logger, metrics *monitoring.Metrics) (*FileStore, error) {
	if opts.Dir == "" {
		return nil, errors.New("cachestore: directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		dir:         opts.Dir,
		gzip:        opts.Gzip,
		invalidator: opts.Invalidator,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// Path returns the artifact's absolute location.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Write replaces the artifact with data and notifies the invalidator.
// Both payloads are staged before either is renamed into place, so a failed
// write leaves the previous artifact untouched. Invalidation failures are
// logged, never returned.
func (s *FileStore) Write(ctx context.Context, data []byte) (*Artifact, error) {
	artifact, err := s.commit(data)
	if err != nil {
		return nil, err
	}

	s.logger.Info("artifact written",
		zap.String("id", artifact.ID.String()),
		zap.String("file", artifact.File),
		zap.Int("size", artifact.Size),
		zap.String("fingerprint", artifact.Fingerprint))

	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx, *artifact); err != nil {
			s.logger.Warn("cache invalidation failed", zap.Error(err))
		}
	}
	return artifact, nil
}

func (s *FileStore) commit(data []byte) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	css, err := stage(s.Path(), data)
	if err != nil {
		return nil, fmt.Errorf("write artifact: %w", err)
	}
	defer os.Remove(css)

	var gz string
	if s.gzip {
		compressed, err := compress(data)
		if err != nil {
			return nil, fmt.Errorf("compress artifact: %w", err)
		}
		if gz, err = stage(s.Path()+".gz", compressed); err != nil {
			return nil, fmt.Errorf("write compressed artifact: %w", err)
		}
		defer os.Remove(gz)

		if err := os.Rename(gz, s.Path()+".gz"); err != nil {
			return nil, fmt.Errorf("write compressed artifact: %w", err)
		}
	}
	if err := os.Rename(css, s.Path()); err != nil {
		if gz != "" {
			// The new sibling no longer matches the stylesheet.
			os.Remove(s.Path() + ".gz")
		}
		return nil, fmt.Errorf("write artifact: %w", err)
	}

	artifact := &Artifact{
		ID:          id.NewArtifactID(),
		File:        s.Path(),
		Size:        len(data),
		Fingerprint: Fingerprint(data),
		Compressed:  s.gzip,
		WrittenAt:   time.Now(),
	}
	s.last = artifact
	s.metrics.SetArtifactSize(len(data))
	return artifact, nil
}

// Read returns the current artifact bytes.
func (s *FileStore) Read() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Stat describes the artifact on disk, including one left by a previous
// process.
func (s *FileStore) Stat() (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.last != nil {
		a := *s.last
		return &a, nil
	}

	f, err := os.Open(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("fingerprint artifact: %w", err)
	}
	_, gzErr := os.Stat(s.Path() + ".gz")
	return &Artifact{
		File:        s.Path(),
		Size:        int(info.Size()),
		Fingerprint: fmt.Sprintf("%016x", h.Sum64()),
		Compressed:  gzErr == nil,
		WrittenAt:   info.ModTime(),
	}, nil
}

// Fingerprint is the artifact's content hash.
func Fingerprint(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// stage writes data to a temp file next to path and returns its name.
func stage(path string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return "", err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	if err := os.Chmod(name, 0o644); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}
