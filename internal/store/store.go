// Package store persists settings, the workspace and the import map cache in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"

	"github.com/orgrosua/yabe-siul/internal/importmap"
	"github.com/orgrosua/yabe-siul/internal/resolver"
	"github.com/orgrosua/yabe-siul/internal/shared/types"
)

const (
	keySettings  = "settings"
	keyWorkspace = "workspace"
)

// DefaultConfig is the config module a fresh install starts with.
const DefaultConfig = `module.exports = {
  theme: {
    extend: {},
  },
  plugins: [],
}`

// DefaultCSS is the stylesheet a fresh install starts with.
const DefaultCSS = `@tailwind base;
@tailwind components;
@tailwind utilities;`

// Store is a SQLite-backed store. Use ":memory:" for a throwaway database.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection: SQLite serialises writers, and every ":memory:"
	// connection would otherwise be its own empty database.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS options (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS dependency_cache (
		version TEXT PRIMARY KEY,
		map TEXT NOT NULL,
		generated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) getOption(ctx context.Context, key string, out interface{}) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM options WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query option %s: %w", key, err)
	}
	if err := sonic.UnmarshalString(raw, out); err != nil {
		return false, fmt.Errorf("decode option %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) putOption(ctx context.Context, key string, value interface{}) error {
	raw, err := sonic.MarshalString(value)
	if err != nil {
		return fmt.Errorf("encode option %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO options (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, raw, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store option %s: %w", key, err)
	}
	return nil
}

// Settings returns the saved settings, defaulting the compiler version to
// "latest".
func (s *Store) Settings(ctx context.Context) (types.Settings, error) {
	settings := types.Settings{CompilerVersion: types.VersionLatest}
	if _, err := s.getOption(ctx, keySettings, &settings); err != nil {
		return types.Settings{}, err
	}
	if settings.CompilerVersion == "" {
		settings.CompilerVersion = types.VersionLatest
	}
	return settings, nil
}

// SaveSettings replaces the saved settings.
func (s *Store) SaveSettings(ctx context.Context, settings types.Settings) error {
	return s.putOption(ctx, keySettings, settings)
}

// Workspace returns the saved config and stylesheet, or the defaults.
func (s *Store) Workspace(ctx context.Context) (types.Workspace, error) {
	var ws types.Workspace
	found, err := s.getOption(ctx, keyWorkspace, &ws)
	if err != nil {
		return types.Workspace{}, err
	}
	if !found {
		return types.Workspace{Config: DefaultConfig, CSS: DefaultCSS}, nil
	}
	return ws, nil
}

// SaveWorkspace replaces the saved workspace.
func (s *Store) SaveWorkspace(ctx context.Context, ws types.Workspace) error {
	return s.putOption(ctx, keyWorkspace, ws)
}

// Get returns the cached import map for version, or nil.
func (s *Store) Get(ctx context.Context, version string) (*resolver.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		raw         string
		generatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT map, generated_at FROM dependency_cache WHERE version = ?", version,
	).Scan(&raw, &generatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query dependency cache: %w", err)
	}

	var m importmap.Map
	if err := sonic.UnmarshalString(raw, &m); err != nil {
		return nil, fmt.Errorf("decode dependency cache %s: %w", version, err)
	}
	return &resolver.Entry{Version: version, Map: &m, GeneratedAt: time.UnixMilli(generatedAt)}, nil
}

// Put replaces the cache entry for entry.Version.
func (s *Store) Put(ctx context.Context, entry resolver.Entry) error {
	raw, err := sonic.MarshalString(entry.Map)
	if err != nil {
		return fmt.Errorf("encode dependency cache: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dependency_cache (version, map, generated_at) VALUES (?, ?, ?)
		ON CONFLICT(version) DO UPDATE SET map = excluded.map, generated_at = excluded.generated_at`,
		entry.Version, raw, entry.GeneratedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store dependency cache: %w", err)
	}
	return nil
}

// Delete drops the cache entry for version.
func (s *Store) Delete(ctx context.Context, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM dependency_cache WHERE version = ?", version); err != nil {
		return fmt.Errorf("delete dependency cache: %w", err)
	}
	return nil
}

var _ resolver.Cache = (*Store)(nil)
