package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"gaiji/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

// quietOptions returns options whose ticker never fires during a test.
func quietOptions(fs *fakeSubmitter) Options {
	return Options{
		JobName:    "job1",
		FlushEvery: 24 * time.Hour,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(1000, 0) },
		newTicker:  func(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	}
}

// TestResolveEnvTag verifies environment-tag precedence and defaults.
func TestResolveEnvTag(t *testing.T) {
	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_used_when_ENV_empty", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "   ", dd: "\n\t", want: "env:unknown"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ENV", tc.env)
			t.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestWrapInitErr(t *testing.T) {
	if got := wrapInitErr(nil); got != nil {
		t.Fatalf("wrapInitErr(nil)=%v, want nil", got)
	}
	in := errors.New("boom")
	got := wrapInitErr(in)
	if !strings.Contains(got.Error(), "datadog metrics init:") || !errors.Is(got, in) {
		t.Fatalf("wrapInitErr(err)=%v, want prefixed wrap of %v", got, in)
	}
}

func TestStepStatusKeyRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		step   string
		status string
	}{
		{name: "normal", step: "write_table", status: "ok"},
		{name: "empty_step", step: "", status: "ok"},
		{name: "both_empty", step: "", status: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			step, status := splitStepStatusKey(stepStatusKey(tc.step, tc.status))
			if step != tc.step || status != tc.status {
				t.Fatalf("roundtrip got=(%q,%q), want=(%q,%q)", step, status, tc.step, tc.status)
			}
		})
	}

	step, status := splitStepStatusKey("no-sep")
	if step != "no-sep" || status != "unknown" {
		t.Fatalf("splitStepStatusKey(no-sep)=(%q,%q)", step, status)
	}
}

func TestWithTags_DoesNotAliasBase(t *testing.T) {
	base := []string{"env:test", "job:gaiji"}
	got := withTags(base, "kind:extracted")
	if want := []string{"env:test", "job:gaiji", "kind:extracted"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("withTags()=%v, want %v", got, want)
	}
	got[0] = "env:mutated"
	if base[0] != "env:test" {
		t.Fatalf("withTags output aliases base")
	}
}

func TestPercentileNearestRank(t *testing.T) {
	tests := []struct {
		name string
		s    []float64
		p    float64
		want float64
	}{
		{name: "empty", s: nil, p: 0.50, want: 0},
		{name: "single", s: []float64{7}, p: 0.95, want: 7},
		{name: "p_le_0", s: []float64{1, 2, 3}, p: -1, want: 1},
		{name: "p_ge_1", s: []float64{1, 2, 3}, p: 2, want: 3},
		{name: "median", s: []float64{1, 2, 3, 4, 5}, p: 0.50, want: 3},
		{name: "p90_small_n", s: []float64{1, 2, 3, 4, 5}, p: 0.90, want: 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := percentileNearestRank(tc.s, tc.p); got != tc.want {
				t.Fatalf("percentileNearestRank(%v,%v)=%v, want %v", tc.s, tc.p, got, tc.want)
			}
		})
	}
}

// TestAddPercentiles verifies the six gauges and that input is not sorted in place.
func TestAddPercentiles(t *testing.T) {
	orig := []float64{5, 1, 3, 2, 4}
	in := append([]float64(nil), orig...)

	var series []datadogV2.MetricSeries
	addPercentiles(&series, []string{"env:test"}, "gaiji.step.duration_seconds", stepStatusKey("replace", "ok"), in, 999)

	if len(series) != 6 {
		t.Fatalf("series.len=%d, want 6", len(series))
	}
	if !reflect.DeepEqual(in, orig) {
		t.Fatalf("samples mutated: got %v, want %v", in, orig)
	}
	last := series[5]
	if last.Metric != "gaiji.step.duration_seconds.samples" || *last.Points[0].Value != 5 {
		t.Fatalf("samples gauge=%s %v", last.Metric, *last.Points[0].Value)
	}
	if !contains(last.Tags, "step:replace") || !contains(last.Tags, "status:ok") {
		t.Fatalf("tags=%v, want step and status", last.Tags)
	}
}

func TestNewBackend_Defaults(t *testing.T) {
	opts := quietOptions(&fakeSubmitter{})
	opts.JobName = ""
	opts.FlushEvery = 0
	opts.Tags = []string{"service:gaiji"}

	b, err := NewBackend(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewBackend() err=%v, want nil", err)
	}
	defer func() { _ = b.Close() }()

	if !contains(b.baseTags, "job:gaiji") || !contains(b.baseTags, "service:gaiji") {
		t.Fatalf("baseTags=%v, want job:gaiji and service:gaiji", b.baseTags)
	}
	if b.flushEvery != 60*time.Second {
		t.Fatalf("flushEvery=%s, want 60s", b.flushEvery)
	}
}

func TestFlush_SubmitsAndResets(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.RowsTotal, 3, metrics.Labels{"kind": "extracted"})
	b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"kind": "failed"})
	b.IncCounter(metrics.DocumentsTotal, 2, metrics.Labels{"status": "replaced"})
	b.IncCounter(metrics.TokensTotal, 9, metrics.Labels{"kind": "replaced"})
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.5, metrics.Labels{"step": "read_table", "status": "ok"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
	if len(b.rowCounts) != 0 || len(b.documentCounts) != 0 || len(b.tokenCounts) != 0 || len(b.durationSamples) != 0 {
		t.Fatalf("buffers not reset after Flush")
	}

	payload, _ := fs.last()
	var names []string
	for _, s := range payload.Series {
		names = append(names, s.Metric)
	}
	want := []string{
		"gaiji.rows.total",
		"gaiji.rows.total",
		"gaiji.documents.total",
		"gaiji.tokens.total",
		"gaiji.step.duration_seconds.p50",
		"gaiji.step.duration_seconds.p90",
		"gaiji.step.duration_seconds.p95",
		"gaiji.step.duration_seconds.p99",
		"gaiji.step.duration_seconds.max",
		"gaiji.step.duration_seconds.samples",
	}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("series=%v, want %v", names, want)
	}
	// rows are sorted by kind: extracted before failed.
	if !contains(payload.Series[0].Tags, "kind:extracted") || *payload.Series[0].Points[0].Value != 3 {
		t.Fatalf("first row series=%+v", payload.Series[0])
	}
}

func TestFlush_NoDataDoesNotSubmit(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	if fs.count() != 0 {
		t.Fatalf("submissions=%d, want 0", fs.count())
	}
}

func TestFlush_SubmitErrorStillResets(t *testing.T) {
	fs := &fakeSubmitter{err: errors.New("403")}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"kind": "skipped"})
	if err := b.Flush(); err == nil {
		t.Fatalf("Flush() err=nil, want submit error")
	}
	if len(b.rowCounts) != 0 {
		t.Fatalf("rowCounts not reset after failed submit")
	}
}

// TestLoopAndClose verifies periodic flushing and the final flush on Close.
func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		JobName:    "job1",
		FlushEvery: 5 * time.Millisecond,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(2000, 0) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}

	b.IncCounter(metrics.DocumentsTotal, 1, metrics.Labels{"status": "replaced"})

	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) && fs.count() < 1 {
		time.Sleep(2 * time.Millisecond)
	}
	if fs.count() < 1 {
		_ = b.Close()
		t.Fatalf("expected a background flush; got %d submissions", fs.count())
	}

	b.IncCounter(metrics.DocumentsTotal, 1, metrics.Labels{"status": "skipped"})
	if err := b.Close(); err != nil {
		t.Fatalf("Close() err=%v, want nil", err)
	}
	if fs.count() < 2 {
		t.Fatalf("submissions after Close=%d, want >= 2", fs.count())
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() err=%v, want nil", err)
	}
}

func TestBackend_ConcurrentAccess(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	workers := runtime.GOMAXPROCS(0) * 4
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"kind": "extracted"})
				b.IncCounter(metrics.TokensTotal, 1, metrics.Labels{"kind": "unreplaced"})
				b.ObserveHistogram(metrics.StepDurationSeconds, 0.01, metrics.Labels{"step": "replace", "status": "ok"})
			}
		}()
	}
	wg.Wait()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	payload, _ := fs.last()
	if v := *payload.Series[0].Points[0].Value; v != float64(workers*1000) {
		t.Fatalf("rows total=%v, want %d", v, workers*1000)
	}
}

func TestIgnoredEvents(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.RowsTotal, 0, metrics.Labels{"kind": "extracted"})
	b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{})
	b.IncCounter("unknown_total", 1, metrics.Labels{"x": "y"})
	b.ObserveHistogram(metrics.StepDurationSeconds, -1, metrics.Labels{"step": "s", "status": "ok"})
	b.ObserveHistogram("unknown_seconds", 1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if fs.count() != 0 {
		t.Fatalf("submissions=%d, want 0", fs.count())
	}

	// A document without status is still counted, under status:unknown.
	b.IncCounter(metrics.DocumentsTotal, 1, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	payload, _ := fs.last()
	if len(payload.Series) != 1 || !contains(payload.Series[0].Tags, "status:unknown") {
		t.Fatalf("series=%+v, want one status:unknown document count", payload.Series)
	}
}

func contains[T comparable](xs []T, v T) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty_returns_nil", in: "", want: nil},
		{name: "trims_and_skips_empty_segments", in: " env:prod , ,service:gaiji,  ,team:data ", want: []string{"env:prod", "service:gaiji", "team:data"}},
		{name: "single_tag", in: "service:gaiji", want: []string{"service:gaiji"}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ParseTagsCSV(tc.in); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseTagsCSV(%q)=%v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
