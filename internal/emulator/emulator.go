// Package emulator serves a local, SQLite-backed stand-in for the remote
// document store: collections, accounts and sessions, storage buckets and
// realtime events, over the same REST and websocket contract the client
// speaks.
package emulator

import (
	"context"
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/docrel/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

// timeLayout matches the store's metadata timestamps.
const timeLayout = "2006-01-02T15:04:05.000-07:00"

var (
	ErrProjectEmpty  = errors.New("emulator project must not be empty")
	ErrDatabaseEmpty = errors.New("emulator database must not be empty")
	ErrClosed        = errors.New("emulator is closed")
)

// Config configures an Emulator.
type Config struct {
	Project  string
	Database string
	// APIKey, when set, is accepted in the key header as a privileged caller.
	APIKey string
	// Collections restricts the known collections. Empty accepts any name.
	Collections []string
	// DataDir holds collection snapshots: <collection>.jsonl files loaded on
	// Open and rewritten on Close. Empty keeps everything in memory.
	DataDir string
	// Secret signs session tokens. A random one is generated when empty.
	Secret     []byte
	SessionTTL time.Duration
}

// Validate checks required fields.
func (c Config) Validate() error {
	if c.Project == "" {
		return ErrProjectEmpty
	}
	if c.Database == "" {
		return ErrDatabaseEmpty
	}
	return nil
}

// Emulator owns the database and the realtime broadcaster.
type Emulator struct {
	cfg         Config
	collections map[string]bool
	db          *sqlx.DB
	events      *Broadcaster
	logger      *zap.Logger
	now         func() time.Time

	mu       sync.Mutex // serializes writes
	closed   bool
	verifies map[string]string // secret -> user id
}

// Open creates the database, applies the schema and loads snapshots from
// DataDir.
func Open(cfg Config, logger *zap.Logger) (*Emulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logging.OrNop(logger)
	if len(cfg.Secret) == 0 {
		cfg.Secret = make([]byte, 32)
		if _, err := rand.Read(cfg.Secret); err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 365 * 24 * time.Hour
	}

	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	// One connection: every statement sees the same in-memory database.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	e := &Emulator{
		cfg:         cfg,
		collections: map[string]bool{},
		db:          db,
		events:      NewBroadcaster(),
		logger:      logger,
		now:         time.Now,
		verifies:    map[string]string{},
	}
	for _, c := range cfg.Collections {
		e.collections[c] = true
	}

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			db.Close()
			return nil, err
		}
		if err := e.loadSnapshots(context.Background()); err != nil {
			db.Close()
			return nil, fmt.Errorf("load snapshots: %w", err)
		}
	}
	return e, nil
}

// Close writes snapshots (when DataDir is set), disconnects realtime clients
// and closes the database. Close is idempotent.
func (e *Emulator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.events.Close()

	var snapErr error
	if e.cfg.DataDir != "" {
		snapErr = e.writeSnapshots(context.Background())
	}
	if err := e.db.Close(); err != nil {
		return err
	}
	return snapErr
}

func (e *Emulator) timestamp() string {
	return e.now().UTC().Format(timeLayout)
}

func (e *Emulator) knownCollection(name string) bool {
	return len(e.collections) == 0 || e.collections[name]
}

func snapshotPath(dir, collection string) string {
	return filepath.Join(dir, collection+".jsonl")
}

// newDocumentID generates a UUID v7 identifier, time ordered.
func newDocumentID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func newSecret() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
