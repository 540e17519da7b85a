// Package metrics is the backend-neutral metrics facade used by the gaiji
// pipelines. Pipelines record through the package-level helpers; the CLI
// installs a concrete backend with SetBackend. The default backend drops
// everything.
package metrics

import (
	"sync"
	"time"
)

// Metric names understood by the backends.
const (
	RowsTotal           = "gaiji_rows_total"
	DocumentsTotal      = "gaiji_documents_total"
	TokensTotal         = "gaiji_tokens_total"
	StepDurationSeconds = "gaiji_step_duration_seconds"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// flusher is implemented by backends that buffer.
type flusher interface {
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. A nil b restores the
// no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter forwards to the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram forwards to the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the installed backend if it buffers.
func Flush() error {
	if f, ok := current().(flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordRow counts one table row by outcome (extracted, failed, skipped).
func RecordRow(kind string) {
	IncCounter(RowsTotal, 1, Labels{"kind": kind})
}

// RecordDocument counts one document by status (replaced, skipped).
func RecordDocument(status string) {
	IncCounter(DocumentsTotal, 1, Labels{"status": status})
}

// RecordTokens counts replaced and unreplaced tokens of one document.
func RecordTokens(replaced, unreplaced int) {
	if replaced > 0 {
		IncCounter(TokensTotal, float64(replaced), Labels{"kind": "replaced"})
	}
	if unreplaced > 0 {
		IncCounter(TokensTotal, float64(unreplaced), Labels{"kind": "unreplaced"})
	}
}

// RecordStep observes the duration of a pipeline step.
func RecordStep(step string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ObserveHistogram(StepDurationSeconds, d.Seconds(), Labels{"step": step, "status": status})
}
