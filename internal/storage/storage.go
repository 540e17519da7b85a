// Package storage records gaiji runs in a SQL ledger.
//
// Backends register themselves by kind from init() (see internal/storage/all)
// and are constructed through New or Open. Every backend stores the same
// three tables, described once in schema.go.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
)

// ErrUnknownKind is returned by New for kinds nobody registered.
var ErrUnknownKind = errors.New("storage: unknown kind")

// Config selects and locates a backend.
type Config struct {
	Kind string
	DSN  string
}

// Run describes one invocation of a tool.
type Run struct {
	ID        string
	Job       string
	Tool      string // extract or replace
	Input     string // table path
	StartedAt time.Time
}

// Summary closes a run.
type Summary struct {
	FinishedAt time.Time
	Status     string // ok or failed
	Items      int    // rows or documents seen
	Succeeded  int
	Failed     int
	Skipped    int
	Output     string
	Error      string
}

// CodePointRecord is the extraction outcome for one table row.
type CodePointRecord struct {
	Row      int // 1-based data row
	URL      string
	Label    string // empty when extraction failed
	Strategy string // strategy that produced Label, or the last one tried
}

// DocumentRecord is the replacement outcome for one document.
type DocumentRecord struct {
	File       string
	Encoding   string
	Found      int
	Replaced   int
	Unreplaced []string
	Output     string
	Skipped    string // reason; empty when processed
}

// Repository is the ledger API used by the pipelines.
type Repository interface {
	// EnsureSchema creates the ledger tables when missing.
	EnsureSchema(ctx context.Context) error
	BeginRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, runID string, s Summary) error
	SaveCodePoints(ctx context.Context, runID string, recs []CodePointRecord) error
	SaveDocuments(ctx context.Context, runID string, recs []DocumentRecord) error
	Close() error
}

// Factory builds a Repository from a Config.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. It panics on an empty
// kind, a nil factory or a duplicate registration.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds lists the registered backends.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New constructs the backend registered under cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("%w %q (registered: %v)", ErrUnknownKind, cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// OpenOptions tune Open.
type OpenOptions struct {
	Attempts uint
	Delay    time.Duration
}

// Open calls New, retrying connection failures, and then EnsureSchema.
// Unknown kinds are not retried.
func Open(ctx context.Context, cfg Config, opt OpenOptions) (Repository, error) {
	if opt.Attempts == 0 {
		opt.Attempts = 3
	}
	if opt.Delay <= 0 {
		opt.Delay = 500 * time.Millisecond
	}

	var repo Repository
	err := retry.Do(
		func() error {
			r, err := New(ctx, cfg)
			if err != nil {
				if errors.Is(err, ErrUnknownKind) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			repo = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(opt.Attempts),
		retry.Delay(opt.Delay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", cfg.Kind, err)
	}

	if err := repo.EnsureSchema(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("storage: ensure schema: %w", err)
	}
	return repo, nil
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}
