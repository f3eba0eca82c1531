package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falimentos/mariia/internal/cache"
	"github.com/falimentos/mariia/internal/llm"
)

func newTestSalesTools(runner *recordingRunner) *SalesTools {
	sb := NewSandbox(runner, testLogger())
	return NewSalesTools(runner, sb, cache.New(), newTestMetrics(), testLogger())
}

func TestDispatcherUnknownTool(t *testing.T) {
	d := NewDispatcher(NewRegistry(), newTestMetrics(), testLogger(), time.Second)

	payload := d.Execute(context.Background(), llm.ToolCall{Name: "get_weather"}, nil)
	require.Contains(t, payload, "error")
	assert.Contains(t, payload["error"], "ferramenta desconhecida")
}

func TestDispatcherHandlerErrorBecomesPayload(t *testing.T) {
	r := NewRegistry()
	r.Register(llm.ToolSpec{Name: "boom"}, func(context.Context, map[string]any, *Scope) (string, error) {
		return "", errors.New("card_code é obrigatório")
	})
	d := NewDispatcher(r, newTestMetrics(), testLogger(), time.Second)

	payload := d.Execute(context.Background(), llm.ToolCall{Name: "boom"}, nil)
	assert.Equal(t, "card_code é obrigatório", payload["error"])
}

func TestDispatcherSurvivesCancelledRequestContext(t *testing.T) {
	r := NewRegistry()
	r.Register(llm.ToolSpec{Name: "slowish"}, func(ctx context.Context, _ map[string]any, _ *Scope) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "ok", nil
	})
	d := NewDispatcher(r, newTestMetrics(), testLogger(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	payload := d.Execute(ctx, llm.ToolCall{Name: "slowish"}, nil)
	assert.Equal(t, "ok", payload["content"], "tool context must be detached from the request context")
}

func TestRegistrySpecsKeepRegistrationOrder(t *testing.T) {
	runner := &recordingRunner{}
	tools := newTestSalesTools(runner)
	r := NewRegistry()
	tools.RegisterAll(r)

	specs := r.Specs()
	require.Len(t, specs, 7)
	assert.Equal(t, "get_customer_history", specs[0].Name)
	assert.Equal(t, "run_analytical_query", specs[6].Name)
}

func TestCustomerHistoryAppliesScope(t *testing.T) {
	runner := &recordingRunner{}
	tools := newTestSalesTools(runner)
	scope := &Scope{Raw: "17", Name: "V.vp - Renata Rodrigues"}

	out, err := tools.customerHistory(context.Background(), map[string]any{"card_code": "C4521"}, scope)
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	assert.Contains(t, runner.lastQuery(), "AND Vendedor_Atual = ?")
	args := runner.lastArgs()
	require.NotEmpty(t, args)
	assert.Equal(t, "C4521", args[0])
	assert.Equal(t, "V.vp - Renata Rodrigues", args[len(args)-1])
}

func TestCustomerHistoryRequiresCardCode(t *testing.T) {
	tools := newTestSalesTools(&recordingRunner{})

	_, err := tools.customerHistory(context.Background(), map[string]any{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "card_code")
}

func TestSalesInsightsIsCachedPerWindowAndScope(t *testing.T) {
	runner := &recordingRunner{}
	tools := newTestSalesTools(runner)
	ctx := context.Background()

	first, err := tools.salesInsights(ctx, map[string]any{"days": float64(30)}, nil)
	require.NoError(t, err)
	callsAfterFirst := runner.calls()
	assert.Equal(t, 2, callsAfterFirst, "customers plus products")

	second, err := tools.salesInsights(ctx, map[string]any{"days": float64(30)}, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, callsAfterFirst, runner.calls(), "second call must be served from cache")

	// A different scope is a different cache entry.
	_, err = tools.salesInsights(ctx, map[string]any{"days": float64(30)}, &Scope{Raw: "17", Name: "V.vp - Renata Rodrigues"})
	require.NoError(t, err)
	assert.Greater(t, runner.calls(), callsAfterFirst)
}

func TestInactiveCustomersScopeGoesBeforeHaving(t *testing.T) {
	runner := &recordingRunner{}
	tools := newTestSalesTools(runner)

	_, err := tools.inactiveCustomers(context.Background(), map[string]any{"days": float64(45)},
		&Scope{Raw: "17", Name: "V.vp - Renata Rodrigues"})
	require.NoError(t, err)

	q := runner.lastQuery()
	assert.Contains(t, q, "WHERE Vendedor_Atual = ?")
	assert.Contains(t, q, "HAVING MAX(Data_Emissao) < date('now', ?)")
	assert.Equal(t, []any{"V.vp - Renata Rodrigues", "-45 days"}, runner.lastArgs())
}

func TestProductCatalogIgnoresScope(t *testing.T) {
	runner := &recordingRunner{}
	tools := newTestSalesTools(runner)

	_, err := tools.productCatalog(context.Background(), nil, &Scope{Raw: "17", Name: "V.vp - Renata Rodrigues"})
	require.NoError(t, err)
	assert.NotContains(t, runner.lastQuery(), "Vendedor_Atual")
}

func TestCannedToolsDegradeToNoDataOnQueryFailure(t *testing.T) {
	handlers := []struct {
		name string
		call func(context.Context, *SalesTools) (string, error)
	}{
		{"get_customer_history", func(ctx context.Context, s *SalesTools) (string, error) {
			return s.customerHistory(ctx, map[string]any{"card_code": "C4521"}, nil)
		}},
		{"get_sales_insights", func(ctx context.Context, s *SalesTools) (string, error) {
			return s.salesInsights(ctx, map[string]any{"days": float64(30)}, nil)
		}},
		{"get_inactive_customers", func(ctx context.Context, s *SalesTools) (string, error) {
			return s.inactiveCustomers(ctx, map[string]any{"days": float64(30)}, nil)
		}},
		{"get_product_catalog", func(ctx context.Context, s *SalesTools) (string, error) {
			return s.productCatalog(ctx, nil, nil)
		}},
		{"get_customer_profile", func(ctx context.Context, s *SalesTools) (string, error) {
			return s.customerProfile(ctx, map[string]any{"card_code": "C4521"}, nil)
		}},
		{"get_portfolio_customers", func(ctx context.Context, s *SalesTools) (string, error) {
			return s.portfolioCustomers(ctx, nil, nil)
		}},
	}

	for _, tc := range handlers {
		t.Run(tc.name, func(t *testing.T) {
			runner := &recordingRunner{err: errors.New("database is locked")}
			tools := newTestSalesTools(runner)

			out, err := tc.call(context.Background(), tools)
			require.NoError(t, err, "a query failure is an answer for the model, not an error")
			assert.Contains(t, out, "Não encontrei dados")
		})
	}
}

func TestCannedToolFailureIsNotCached(t *testing.T) {
	runner := &recordingRunner{err: errors.New("database is locked")}
	tools := newTestSalesTools(runner)
	ctx := context.Background()

	out, err := tools.inactiveCustomers(ctx, map[string]any{"days": float64(30)}, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "Não encontrei dados")
	callsAfterFailure := runner.calls()

	// Once the database recovers the next call must recompute.
	runner.err = nil
	out, err = tools.inactiveCustomers(ctx, map[string]any{"days": float64(30)}, nil)
	require.NoError(t, err)
	assert.NotContains(t, out, "Não encontrei dados")
	assert.Greater(t, runner.calls(), callsAfterFailure)
}

func TestAnalyticalQueryRunsThroughSandbox(t *testing.T) {
	runner := &recordingRunner{}
	tools := newTestSalesTools(runner)

	_, err := tools.analyticalQuery(context.Background(),
		map[string]any{"sql": "SELECT * FROM vendedores"}, nil)
	require.Error(t, err)
	assert.Zero(t, runner.calls())
}

func TestCustomerTrendRowsAppliesScope(t *testing.T) {
	runner := &recordingRunner{}
	tools := newTestSalesTools(runner)
	scope := &Scope{Raw: "17", Name: "V.vp - Renata Rodrigues"}

	_, err := tools.CustomerTrendRows(context.Background(), "C4521", 6, scope)
	require.NoError(t, err)

	q := runner.lastQuery()
	assert.Contains(t, q, "strftime('%Y-%m', Data_Emissao)")
	assert.Contains(t, q, "AND Vendedor_Atual = ?")
	assert.Equal(t, []any{"C4521", "-6 months", "V.vp - Renata Rodrigues"}, runner.lastArgs())
}

func TestBalesBreakdownRowsScope(t *testing.T) {
	runner := &recordingRunner{}
	tools := newTestSalesTools(runner)

	_, err := tools.BalesBreakdownRows(context.Background(), "C4521", nil)
	require.NoError(t, err)
	assert.NotContains(t, runner.lastQuery(), "Vendedor_Atual")
	assert.Contains(t, runner.lastQuery(), "Media_Fardos_Por_Pedido")
	assert.Equal(t, []any{"C4521"}, runner.lastArgs())

	_, err = tools.BalesBreakdownRows(context.Background(), "C4521", &Scope{Raw: "17", Name: "V.vp - Renata Rodrigues"})
	require.NoError(t, err)
	assert.Contains(t, runner.lastQuery(), "AND Vendedor_Atual = ?")
	assert.Equal(t, []any{"C4521", "V.vp - Renata Rodrigues"}, runner.lastArgs())
}

func TestArgInt(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want int
	}{
		{"missing uses default", map[string]any{}, 30},
		{"json number", map[string]any{"days": float64(7)}, 7},
		{"string number", map[string]any{"days": "15"}, 15},
		{"garbage string uses default", map[string]any{"days": "amanhã"}, 30},
		{"clamped low", map[string]any{"days": float64(0)}, 1},
		{"clamped high", map[string]any{"days": float64(9000)}, 365},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, argInt(tc.args, "days", 30, 1, 365))
		})
	}
}
