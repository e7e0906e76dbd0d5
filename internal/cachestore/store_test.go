package cachestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orgrosua/yabe-siul/internal/httpclient"
)

type recordingInvalidator struct {
	mu     sync.Mutex
	events []Artifact
	err    error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, a Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, a)
	return r.err
}

func TestWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	inv := &recordingInvalidator{}
	s, err := New(Options{Dir: dir, Gzip: true, Invalidator: inv}, nil, nil)
	require.NoError(t, err)

	_, err = s.Read()
	assert.ErrorIs(t, err, ErrNotFound)

	css := []byte("/*! tailwindcss v3.4.1 */\n.a{color:red}")
	artifact, err := s.Write(context.Background(), css)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, FileName), artifact.File)
	assert.Equal(t, len(css), artifact.Size)
	assert.Equal(t, Fingerprint(css), artifact.Fingerprint)
	assert.NotEmpty(t, artifact.ID)
	assert.True(t, artifact.Compressed)

	data, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, css, data)

	gz, err := os.Open(s.Path() + ".gz")
	require.NoError(t, err)
	defer gz.Close()
	zr, err := gzip.NewReader(gz)
	require.NoError(t, err)
	unzipped, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, css, unzipped)

	require.Len(t, inv.events, 1)
	assert.Equal(t, artifact.Fingerprint, inv.events[0].Fingerprint)
}

func TestWriteReplacesWholeFile(t *testing.T) {
	s, err := New(Options{Dir: t.TempDir()}, nil, nil)
	require.NoError(t, err)

	_, err = s.Write(context.Background(), bytes.Repeat([]byte("x"), 1024))
	require.NoError(t, err)
	_, err = s.Write(context.Background(), []byte(".b{}"))
	require.NoError(t, err)

	data, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, ".b{}", string(data))

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	_, err = os.Stat(s.Path() + ".gz")
	assert.True(t, os.IsNotExist(err))
}

func TestInvalidationFailureDoesNotFailWrite(t *testing.T) {
	inv := &recordingInvalidator{err: errors.New("purge refused")}
	s, err := New(Options{Dir: t.TempDir(), Invalidator: inv}, nil, nil)
	require.NoError(t, err)

	_, err = s.Write(context.Background(), []byte(".a{}"))
	require.NoError(t, err)
	assert.Len(t, inv.events, 1)
}

func TestFailedWriteKeepsPreviousArtifact(t *testing.T) {
	inv := &recordingInvalidator{}
	s, err := New(Options{Dir: t.TempDir(), Gzip: true, Invalidator: inv}, nil, nil)
	require.NoError(t, err)

	old, err := s.Write(context.Background(), []byte(".old{}"))
	require.NoError(t, err)

	// A non-empty directory in place of the sibling makes its rename fail.
	require.NoError(t, os.Remove(s.Path()+".gz"))
	require.NoError(t, os.Mkdir(s.Path()+".gz", 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Path()+".gz", "keep"), nil, 0o644))

	_, err = s.Write(context.Background(), []byte(".new{}"))
	require.Error(t, err)

	data, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, ".old{}", string(data))

	a, err := s.Stat()
	require.NoError(t, err)
	assert.Equal(t, old.Fingerprint, a.Fingerprint)
	assert.Equal(t, Fingerprint(data), a.Fingerprint)
	assert.Len(t, inv.events, 1)

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "staged files must be cleaned up")
}

type statInvalidator struct {
	store *FileStore
	seen  *Artifact
}

func (i *statInvalidator) Invalidate(_ context.Context, _ Artifact) error {
	a, err := i.store.Stat()
	i.seen = a
	return err
}

func TestInvalidateRunsOutsideLock(t *testing.T) {
	inv := &statInvalidator{}
	s, err := New(Options{Dir: t.TempDir(), Invalidator: inv}, nil, nil)
	require.NoError(t, err)
	inv.store = s

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.Write(context.Background(), []byte(".a{}"))
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Write blocked while invalidating")
	}
	require.NotNil(t, inv.seen)
	assert.Equal(t, Fingerprint([]byte(".a{}")), inv.seen.Fingerprint)
}

func TestStatFromPreviousProcess(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(".old{}"), 0o644))

	s, err := New(Options{Dir: dir}, nil, nil)
	require.NoError(t, err)

	a, err := s.Stat()
	require.NoError(t, err)
	assert.Equal(t, 6, a.Size)
	assert.Equal(t, Fingerprint([]byte(".old{}")), a.Fingerprint)
	assert.False(t, a.Compressed)
}

func TestStatMissing(t *testing.T) {
	s, err := New(Options{Dir: t.TempDir()}, nil, nil)
	require.NoError(t, err)
	_, err = s.Stat()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewRequiresDir(t *testing.T) {
	_, err := New(Options{}, nil, nil)
	assert.Error(t, err)
}

type fakePublisher struct {
	subject string
	data    []byte
	err     error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subject = subject
	f.data = data
	return f.err
}

func (f *fakePublisher) FlushTimeout(time.Duration) error { return nil }

func TestNATSInvalidatorPublishesEvent(t *testing.T) {
	pub := &fakePublisher{}
	n := &NATSInvalidator{conn: pub, subject: "siul.cache.invalidated", logger: zap.NewNop()}

	a := Artifact{File: "/tmp/tailwind.css", Fingerprint: "abc", Size: 12, WrittenAt: time.Unix(100, 0).UTC()}
	require.NoError(t, n.Invalidate(context.Background(), a))

	assert.Equal(t, "siul.cache.invalidated", pub.subject)
	var got Event
	require.NoError(t, sonic.Unmarshal(pub.data, &got))
	assert.Equal(t, "abc", got.Fingerprint)
	assert.Equal(t, 12, got.Size)
	assert.Equal(t, "/tmp/tailwind.css", got.File)

	pub.err = errors.New("nats: connection closed")
	assert.Error(t, n.Invalidate(context.Background(), a))
}

func TestWebhookInvalidator(t *testing.T) {
	var (
		mu   sync.Mutex
		hits []Event
	)
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e Event
		_ = sonic.ConfigDefault.NewDecoder(r.Body).Decode(&e)
		mu.Lock()
		hits = append(hits, e)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ok.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	client := httpclient.New(httpclient.Options{Timeout: 5 * time.Second})
	w := NewWebhookInvalidator(client, []string{ok.URL, failing.URL})

	err := w.Invalidate(context.Background(), Artifact{Fingerprint: "f00"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), failing.URL)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, hits, 1)
	assert.Equal(t, "f00", hits[0].Fingerprint)
}

func TestInvalidatorsJoinErrors(t *testing.T) {
	a := &recordingInvalidator{}
	b := &recordingInvalidator{err: errors.New("b down")}
	err := Invalidators{a, b}.Invalidate(context.Background(), Artifact{})
	assert.EqualError(t, err, "b down")
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}
