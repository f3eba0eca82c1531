package core

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/falimentos/mariia/internal/observability"
	"github.com/falimentos/mariia/internal/store"
)

// recordingRunner captures every query so tests can assert on the SQL that
// would hit the database.
type recordingRunner struct {
	mu      sync.Mutex
	queries []string
	args    [][]any
	rowset  *store.Rowset
	err     error
}

func (r *recordingRunner) Select(_ context.Context, query string, args ...any) (*store.Rowset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
	r.args = append(r.args, args)
	if r.err != nil {
		return nil, r.err
	}
	if r.rowset != nil {
		return r.rowset, nil
	}
	return &store.Rowset{Columns: []string{"Valor"}, Rows: [][]string{{"42"}}}, nil
}

func (r *recordingRunner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queries)
}

func (r *recordingRunner) lastQuery() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queries) == 0 {
		return ""
	}
	return r.queries[len(r.queries)-1]
}

func (r *recordingRunner) lastArgs() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.args) == 0 {
		return nil
	}
	return r.args[len(r.args)-1]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetricsWith("test", prometheus.NewRegistry())
}
