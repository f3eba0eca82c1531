package core

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/falimentos/mariia/internal/cache"
	"github.com/falimentos/mariia/internal/llm"
	"github.com/falimentos/mariia/internal/observability"
	"github.com/falimentos/mariia/internal/store"
)

const resultRowCap = 30

// ToolHandler executes one tool call under the caller's seller scope and
// returns model-readable text.
type ToolHandler func(ctx context.Context, args map[string]any, scope *Scope) (string, error)

type registeredTool struct {
	spec    llm.ToolSpec
	handler ToolHandler
}

// Registry holds the tool set advertised to the model. Registration order is
// preserved so the declarations the model sees are stable across turns.
type Registry struct {
	order []string
	tools map[string]registeredTool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registeredTool)}
}

func (r *Registry) Register(spec llm.ToolSpec, handler ToolHandler) {
	if _, exists := r.tools[spec.Name]; !exists {
		r.order = append(r.order, spec.Name)
	}
	r.tools[spec.Name] = registeredTool{spec: spec, handler: handler}
}

func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].spec)
	}
	return specs
}

func (r *Registry) handler(name string) (ToolHandler, bool) {
	t, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return t.handler, true
}

// Dispatcher runs tool calls requested by the model. It never returns an
// error: every failure becomes an error payload the model can read and work
// around, keeping the conversation alive.
type Dispatcher struct {
	registry *Registry
	metrics  *observability.Metrics
	log      *slog.Logger
	timeout  time.Duration
}

func NewDispatcher(registry *Registry, metrics *observability.Metrics, log *slog.Logger, timeout time.Duration) *Dispatcher {
	return &Dispatcher{registry: registry, metrics: metrics, log: log, timeout: timeout}
}

func (d *Dispatcher) Execute(ctx context.Context, call llm.ToolCall, scope *Scope) map[string]any {
	handler, ok := d.registry.handler(call.Name)
	if !ok {
		d.log.Warn("model requested unknown tool", "tool", call.Name)
		d.metrics.ToolExecutions.WithLabelValues(call.Name, "unknown").Inc()
		return map[string]any{"error": fmt.Sprintf("ferramenta desconhecida: %s", call.Name)}
	}

	// Detached from the request context so a client disconnect mid-stream
	// does not abandon a query that would have warmed the cache.
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	started := time.Now()
	content, err := handler(execCtx, call.Args, scope)
	if err != nil {
		d.log.Warn("tool execution failed", "tool", call.Name, "error", err)
		d.metrics.ToolExecutions.WithLabelValues(call.Name, "error").Inc()
		return map[string]any{"error": err.Error()}
	}

	d.log.Debug("tool executed", "tool", call.Name, "elapsed", time.Since(started))
	d.metrics.ToolExecutions.WithLabelValues(call.Name, "ok").Inc()
	return map[string]any{"content": content}
}

// SalesTools implements the data-retrieval operations the model can invoke
// against the sales dataset.
type SalesTools struct {
	runner  QueryRunner
	sandbox *Sandbox
	cache   *cache.Cache
	metrics *observability.Metrics
	log     *slog.Logger
	now     func() time.Time
	tz      *time.Location
}

func NewSalesTools(runner QueryRunner, sandbox *Sandbox, c *cache.Cache, metrics *observability.Metrics, log *slog.Logger) *SalesTools {
	tz, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		tz = time.FixedZone("-03", -3*60*60)
	}
	return &SalesTools{
		runner:  runner,
		sandbox: sandbox,
		cache:   c,
		metrics: metrics,
		log:     log,
		now:     time.Now,
		tz:      tz,
	}
}

// RegisterAll declares every sales tool on the registry.
func (t *SalesTools) RegisterAll(r *Registry) {
	r.Register(llm.ToolSpec{
		Name:        "get_customer_history",
		Description: "Histórico de compras de um cliente específico nos últimos meses.",
		Params: []llm.Param{
			{Name: "card_code", Type: llm.ParamString, Description: "Código do cliente, ex: C12345.", Required: true},
			{Name: "months", Type: llm.ParamInteger, Description: "Janela em meses (padrão 3)."},
		},
	}, t.customerHistory)

	r.Register(llm.ToolSpec{
		Name:        "get_sales_insights",
		Description: "Rankings de clientes e produtos por faturamento e margem no período recente.",
		Params: []llm.Param{
			{Name: "days", Type: llm.ParamInteger, Description: "Janela em dias (padrão 30)."},
		},
	}, t.salesInsights)

	r.Register(llm.ToolSpec{
		Name:        "get_inactive_customers",
		Description: "Clientes que pararam de comprar há mais de N dias, candidatos a reativação.",
		Params: []llm.Param{
			{Name: "days", Type: llm.ParamInteger, Description: "Dias sem compra (padrão 30)."},
		},
	}, t.inactiveCustomers)

	r.Register(llm.ToolSpec{
		Name:        "get_product_catalog",
		Description: "Catálogo de produtos vendidos com giro e faturamento acumulados.",
	}, t.productCatalog)

	r.Register(llm.ToolSpec{
		Name:        "get_customer_profile",
		Description: "Perfil de compra consolidado de um cliente: frequência, ticket e produtos preferidos.",
		Params: []llm.Param{
			{Name: "card_code", Type: llm.ParamString, Description: "Código do cliente, ex: C12345.", Required: true},
		},
	}, t.customerProfile)

	r.Register(llm.ToolSpec{
		Name:        "get_portfolio_customers",
		Description: "Lista os clientes da carteira do vendedor com a data da última compra.",
	}, t.portfolioCustomers)

	r.Register(llm.ToolSpec{
		Name:        "run_analytical_query",
		Description: "Executa uma consulta SELECT ad-hoc na view FAL_IA_Dados_Vendas_Televendas quando nenhuma outra ferramenta responde à pergunta.",
		Params: []llm.Param{
			{Name: "sql", Type: llm.ParamString, Description: "Consulta SELECT referenciando apenas FAL_IA_Dados_Vendas_Televendas.", Required: true},
			{Name: "explanation", Type: llm.ParamString, Description: "O que a consulta pretende responder, em uma frase."},
		},
	}, t.analyticalQuery)
}

// --- handlers ---

func (t *SalesTools) customerHistory(ctx context.Context, args map[string]any, scope *Scope) (string, error) {
	cardCode := argString(args, "card_code")
	if cardCode == "" {
		return "", fmt.Errorf("card_code é obrigatório")
	}
	months := argInt(args, "months", 3, 1, 24)

	rs, err := t.CustomerHistoryRows(ctx, cardCode, months, scope)
	if err != nil {
		return t.noData("get_customer_history", err)
	}
	if rs.Empty() {
		return fmt.Sprintf("Não encontrei compras para o cliente %s nos últimos %d meses.", cardCode, months), nil
	}
	return rs.Table(resultRowCap), nil
}

func (t *SalesTools) salesInsights(ctx context.Context, args map[string]any, scope *Scope) (string, error) {
	days := argInt(args, "days", 30, 1, 365)

	out, err := t.memoized(cache.ClassVolatile, "get_sales_insights", map[string]string{
		"days":  strconv.Itoa(days),
		"scope": scopeName(scope),
	}, func() (string, error) {
		customers, err := t.InsightsRows(ctx, days, scope)
		if err != nil {
			return "", err
		}
		products, err := t.topProductsRows(ctx, days, scope)
		if err != nil {
			return "", err
		}
		if customers.Empty() && products.Empty() {
			return fmt.Sprintf("Sem vendas registradas nos últimos %d dias.", days), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "## Top clientes por faturamento (últimos %d dias)\n", days)
		b.WriteString(customers.Table(resultRowCap))
		fmt.Fprintf(&b, "\n## Top produtos por faturamento (últimos %d dias)\n", days)
		b.WriteString(products.Table(resultRowCap))
		return b.String(), nil
	})
	if err != nil {
		return t.noData("get_sales_insights", err)
	}
	return out, nil
}

func (t *SalesTools) inactiveCustomers(ctx context.Context, args map[string]any, scope *Scope) (string, error) {
	days := argInt(args, "days", 30, 1, 365)

	out, err := t.memoized(cache.ClassVolatile, "get_inactive_customers", map[string]string{
		"days":  strconv.Itoa(days),
		"scope": scopeName(scope),
	}, func() (string, error) {
		rs, err := t.InactiveRows(ctx, days, scope)
		if err != nil {
			return "", err
		}
		if rs.Empty() {
			return fmt.Sprintf("Nenhum cliente está há mais de %d dias sem comprar. Carteira em dia!", days), nil
		}
		return rs.Table(resultRowCap), nil
	})
	if err != nil {
		return t.noData("get_inactive_customers", err)
	}
	return out, nil
}

func (t *SalesTools) productCatalog(ctx context.Context, _ map[string]any, _ *Scope) (string, error) {
	// The catalog is company-wide, so it is never scoped.
	out, err := t.memoized(cache.ClassCatalog, "get_product_catalog", nil, func() (string, error) {
		rs, err := t.runner.Select(ctx, `
			SELECT SKU, Nome_Produto,
			       SUM(Quantidade) AS Quantidade_Vendida,
			       SUM(Valor_Liquido) AS Faturamento
			FROM FAL_IA_Dados_Vendas_Televendas
			GROUP BY SKU, Nome_Produto
			ORDER BY Faturamento DESC
			LIMIT 50`)
		if err != nil {
			return "", err
		}
		if rs.Empty() {
			return "O catálogo está vazio: nenhuma venda registrada ainda.", nil
		}
		return rs.Table(50), nil
	})
	if err != nil {
		return t.noData("get_product_catalog", err)
	}
	return out, nil
}

func (t *SalesTools) customerProfile(ctx context.Context, args map[string]any, scope *Scope) (string, error) {
	cardCode := argString(args, "card_code")
	if cardCode == "" {
		return "", fmt.Errorf("card_code é obrigatório")
	}
	out, err := t.ProfileText(ctx, cardCode, scope)
	if err != nil {
		return t.noData("get_customer_profile", err)
	}
	return out, nil
}

// ProfileText builds the consolidated purchasing profile of one customer.
// Exported because the pitch generator grounds its prompt on the same text
// the chat tool produces. Cached for a day, keyed by the civil date in São
// Paulo so "this month so far" never leaks across a day boundary.
func (t *SalesTools) ProfileText(ctx context.Context, cardCode string, scope *Scope) (string, error) {
	return t.memoized(cache.ClassProfile, "get_customer_profile", map[string]string{
		"card_code": cardCode,
		"scope":     scopeName(scope),
		"day":       t.now().In(t.tz).Format("2006-01-02"),
	}, func() (string, error) {
		where := "WHERE Codigo_Cliente = ?"
		qargs := []any{cardCode}
		if scope != nil {
			where += " AND Vendedor_Atual = ?"
			qargs = append(qargs, scope.Name)
		}

		summary, err := t.runner.Select(ctx, `
			SELECT Nome_Cliente, Cidade, Estado,
			       COUNT(DISTINCT Numero_Documento) AS Pedidos,
			       MIN(Data_Emissao) AS Primeira_Compra,
			       MAX(Data_Emissao) AS Ultima_Compra,
			       SUM(Valor_Liquido) AS Faturamento_Total,
			       SUM(Margem_Valor) AS Margem_Total
			FROM FAL_IA_Dados_Vendas_Televendas `+where+`
			GROUP BY Nome_Cliente, Cidade, Estado`, qargs...)
		if err != nil {
			return "", err
		}
		if summary.Empty() {
			return fmt.Sprintf("Não encontrei o cliente %s na base de vendas.", cardCode), nil
		}

		topProducts, err := t.runner.Select(ctx, `
			SELECT SKU, Nome_Produto,
			       SUM(Quantidade) AS Quantidade,
			       SUM(Valor_Liquido) AS Faturamento
			FROM FAL_IA_Dados_Vendas_Televendas `+where+`
			GROUP BY SKU, Nome_Produto
			ORDER BY Faturamento DESC
			LIMIT 10`, qargs...)
		if err != nil {
			return "", err
		}

		var b strings.Builder
		fmt.Fprintf(&b, "## Perfil do cliente %s\n", cardCode)
		b.WriteString(summary.Table(1))
		b.WriteString("\n## Produtos mais comprados\n")
		b.WriteString(topProducts.Table(10))
		return b.String(), nil
	})
}

func (t *SalesTools) portfolioCustomers(ctx context.Context, _ map[string]any, scope *Scope) (string, error) {
	var (
		where string
		qargs []any
	)
	if scope != nil {
		where = "WHERE Vendedor_Atual = ?"
		qargs = append(qargs, scope.Name)
	}

	rs, err := t.runner.Select(ctx, `
		SELECT Codigo_Cliente, Nome_Cliente, Cidade, Estado,
		       MAX(Data_Emissao) AS Ultima_Compra
		FROM FAL_IA_Dados_Vendas_Televendas `+where+`
		GROUP BY Codigo_Cliente, Nome_Cliente, Cidade, Estado
		ORDER BY Nome_Cliente`, qargs...)
	if err != nil {
		return t.noData("get_portfolio_customers", err)
	}
	if rs.Empty() {
		return "Nenhum cliente encontrado na carteira.", nil
	}
	return rs.Table(resultRowCap), nil
}

func (t *SalesTools) analyticalQuery(ctx context.Context, args map[string]any, scope *Scope) (string, error) {
	query := argString(args, "sql")
	if query == "" {
		return "", fmt.Errorf("sql é obrigatório")
	}
	if explanation := argString(args, "explanation"); explanation != "" {
		t.log.Info("model-authored query", "explanation", explanation)
	}
	return t.sandbox.Execute(ctx, query, scope)
}

// --- rowset queries shared with the REST surface ---

func (t *SalesTools) CustomerHistoryRows(ctx context.Context, cardCode string, months int, scope *Scope) (*store.Rowset, error) {
	where := "WHERE Codigo_Cliente = ? AND Data_Emissao >= date('now', ?)"
	qargs := []any{cardCode, fmt.Sprintf("-%d months", months)}
	if scope != nil {
		where += " AND Vendedor_Atual = ?"
		qargs = append(qargs, scope.Name)
	}

	return t.runner.Select(ctx, `
		SELECT Data_Emissao, Numero_Documento, Status_Documento,
		       SKU, Nome_Produto, Quantidade, Valor_Liquido
		FROM FAL_IA_Dados_Vendas_Televendas `+where+`
		ORDER BY Data_Emissao DESC`, qargs...)
}

// CustomerTrendRows aggregates a customer's orders, volume and revenue per
// month over the trailing window.
func (t *SalesTools) CustomerTrendRows(ctx context.Context, cardCode string, months int, scope *Scope) (*store.Rowset, error) {
	where := "WHERE Codigo_Cliente = ? AND Data_Emissao >= date('now', ?)"
	qargs := []any{cardCode, fmt.Sprintf("-%d months", months)}
	if scope != nil {
		where += " AND Vendedor_Atual = ?"
		qargs = append(qargs, scope.Name)
	}

	return t.runner.Select(ctx, `
		SELECT strftime('%Y-%m', Data_Emissao) AS Mes,
		       COUNT(DISTINCT Numero_Documento) AS Pedidos,
		       SUM(Quantidade) AS Quantidade,
		       SUM(Valor_Liquido) AS Faturamento
		FROM FAL_IA_Dados_Vendas_Televendas `+where+`
		GROUP BY Mes
		ORDER BY Mes`, qargs...)
}

// BalesBreakdownRows reports, per SKU, the customer's total bales and the
// average bales per order, the number buyers quote when negotiating volume.
func (t *SalesTools) BalesBreakdownRows(ctx context.Context, cardCode string, scope *Scope) (*store.Rowset, error) {
	where := "WHERE Codigo_Cliente = ?"
	qargs := []any{cardCode}
	if scope != nil {
		where += " AND Vendedor_Atual = ?"
		qargs = append(qargs, scope.Name)
	}

	return t.runner.Select(ctx, `
		SELECT SKU, Nome_Produto,
		       SUM(Quantidade) AS Fardos_Total,
		       COUNT(DISTINCT Numero_Documento) AS Pedidos,
		       ROUND(SUM(Quantidade) * 1.0 / COUNT(DISTINCT Numero_Documento), 2) AS Media_Fardos_Por_Pedido
		FROM FAL_IA_Dados_Vendas_Televendas `+where+`
		GROUP BY SKU, Nome_Produto
		ORDER BY Fardos_Total DESC`, qargs...)
}

func (t *SalesTools) InsightsRows(ctx context.Context, days int, scope *Scope) (*store.Rowset, error) {
	where := "WHERE Data_Emissao >= date('now', ?)"
	qargs := []any{fmt.Sprintf("-%d days", days)}
	if scope != nil {
		where += " AND Vendedor_Atual = ?"
		qargs = append(qargs, scope.Name)
	}

	return t.runner.Select(ctx, `
		SELECT Codigo_Cliente, Nome_Cliente,
		       SUM(Valor_Liquido) AS Faturamento,
		       SUM(Margem_Valor) AS Margem
		FROM FAL_IA_Dados_Vendas_Televendas `+where+`
		GROUP BY Codigo_Cliente, Nome_Cliente
		ORDER BY Faturamento DESC
		LIMIT 10`, qargs...)
}

func (t *SalesTools) topProductsRows(ctx context.Context, days int, scope *Scope) (*store.Rowset, error) {
	where := "WHERE Data_Emissao >= date('now', ?)"
	qargs := []any{fmt.Sprintf("-%d days", days)}
	if scope != nil {
		where += " AND Vendedor_Atual = ?"
		qargs = append(qargs, scope.Name)
	}

	return t.runner.Select(ctx, `
		SELECT SKU, Nome_Produto,
		       SUM(Quantidade) AS Quantidade,
		       SUM(Valor_Liquido) AS Faturamento
		FROM FAL_IA_Dados_Vendas_Televendas `+where+`
		GROUP BY SKU, Nome_Produto
		ORDER BY Faturamento DESC
		LIMIT 10`, qargs...)
}

func (t *SalesTools) InactiveRows(ctx context.Context, days int, scope *Scope) (*store.Rowset, error) {
	var (
		where string
		qargs []any
	)
	if scope != nil {
		where = "WHERE Vendedor_Atual = ?"
		qargs = append(qargs, scope.Name)
	}
	qargs = append(qargs, fmt.Sprintf("-%d days", days))

	return t.runner.Select(ctx, `
		SELECT Codigo_Cliente, Nome_Cliente,
		       MAX(Data_Emissao) AS Ultima_Compra,
		       SUM(Valor_Liquido) AS Faturamento_Historico
		FROM FAL_IA_Dados_Vendas_Televendas `+where+`
		GROUP BY Codigo_Cliente, Nome_Cliente
		HAVING MAX(Data_Emissao) < date('now', ?)
		ORDER BY Ultima_Compra ASC
		LIMIT 30`, qargs...)
}

// --- helpers ---

// A canned-tool query failure is an answer, not an error: the model sees
// "no data" and the conversation keeps going, same as the sandbox. Failures
// are never cached because the memoization layer only stores successes.
func (t *SalesTools) noData(tool string, err error) (string, error) {
	t.log.Warn("tool query failed at the database", "tool", tool, "error", err)
	return "Não encontrei dados para essa consulta.", nil
}

func (t *SalesTools) memoized(class cache.Class, tool string, keyArgs map[string]string, compute func() (string, error)) (string, error) {
	key := cache.Key(tool, keyArgs)
	v, hit, err := t.cache.Do(class, key, compute)
	if err != nil {
		t.metrics.CacheLookups.WithLabelValues(tool, "error").Inc()
		return "", err
	}
	if hit {
		t.metrics.CacheLookups.WithLabelValues(tool, "hit").Inc()
	} else {
		t.metrics.CacheLookups.WithLabelValues(tool, "miss").Inc()
	}
	return v, nil
}

func scopeName(scope *Scope) string {
	if scope == nil {
		return ""
	}
	return scope.Name
}

func argString(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// argInt reads an integer argument tolerantly. Model-produced JSON numbers
// arrive as float64, but strings show up in practice too.
func argInt(args map[string]any, key string, def, min, max int) int {
	n := def
	switch v := args[key].(type) {
	case float64:
		n = int(v)
	case int:
		n = v
	case int64:
		n = int(v)
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			n = parsed
		}
	}
	if n < min {
		n = min
	}
	if n > max {
		n = max
	}
	return n
}
