package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falimentos/mariia/internal/llm"
)

// scriptStream replays a fixed chunk sequence, optionally ending with an
// error instead of io.EOF.
type scriptStream struct {
	chunks []*llm.Chunk
	err    error
}

func (s *scriptStream) Next() (*llm.Chunk, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

type toolResult struct {
	name    string
	payload map[string]any
}

// scriptSession returns the scripted initial stream, then one continuation
// stream per tool round.
type scriptSession struct {
	initial       *scriptStream
	continuations []*scriptStream
	toolResults   []toolResult
}

func (s *scriptSession) SendMessage(context.Context, string) (llm.Stream, error) {
	return s.initial, nil
}

func (s *scriptSession) SendToolResult(_ context.Context, name string, payload map[string]any) (llm.Stream, error) {
	s.toolResults = append(s.toolResults, toolResult{name: name, payload: payload})
	if len(s.continuations) == 0 {
		return &scriptStream{}, nil
	}
	next := s.continuations[0]
	s.continuations = s.continuations[1:]
	return next, nil
}

type scriptClient struct {
	session    *scriptSession
	sessionErr error
	lastCfg    llm.SessionConfig
}

func (c *scriptClient) NewSession(cfg llm.SessionConfig) (llm.Session, error) {
	c.lastCfg = cfg
	if c.sessionErr != nil {
		return nil, c.sessionErr
	}
	return c.session, nil
}

func (c *scriptClient) Classify(context.Context, string, string) (string, error) {
	return "CHIT_CHAT", nil
}

func (c *scriptClient) GenerateJSON(context.Context, string, string) ([]byte, error) {
	return nil, errors.New("not scripted")
}

func (c *scriptClient) Close() error { return nil }

type nilDirectory struct{}

func (nilDirectory) SellerNameByCode(context.Context, int) (string, bool, error) {
	return "", false, nil
}

func newTestChatService(client *scriptClient, registry *Registry) *ChatService {
	metrics := newTestMetrics()
	if registry == nil {
		registry = NewRegistry()
	}
	return NewChatService(
		client,
		NewClassifier(client, testLogger()),
		NewSellerResolver(nilDirectory{}, testLogger()),
		registry,
		NewDispatcher(registry, metrics, testLogger(), time.Second),
		metrics,
		testLogger(),
		30*time.Second,
	)
}

func collect(ch <-chan string) string {
	var b strings.Builder
	for chunk := range ch {
		b.WriteString(chunk)
	}
	return b.String()
}

func TestChatStreamForwardsTextChunks(t *testing.T) {
	client := &scriptClient{session: &scriptSession{initial: &scriptStream{chunks: []*llm.Chunk{
		{Text: "Olá"},
		{Text: ", tudo bem?"},
	}}}}
	svc := newTestChatService(client, nil)

	got := collect(svc.ChatStream(context.Background(), "oi", nil, ""))
	assert.Equal(t, "Olá, tudo bem?", got)
}

func TestChatStreamToolRoundTrip(t *testing.T) {
	registry := NewRegistry()
	registry.Register(llm.ToolSpec{Name: "get_sales_insights"}, func(context.Context, map[string]any, *Scope) (string, error) {
		return "| Cliente | Faturamento |", nil
	})

	client := &scriptClient{session: &scriptSession{
		initial: &scriptStream{chunks: []*llm.Chunk{
			{Call: &llm.ToolCall{Name: "get_sales_insights", Args: map[string]any{"days": float64(30)}}},
		}},
		continuations: []*scriptStream{
			{chunks: []*llm.Chunk{{Text: "Seus melhores clientes são..."}}},
		},
	}}
	svc := newTestChatService(client, registry)

	got := collect(svc.ChatStream(context.Background(), "quem são meus melhores clientes?", nil, ""))

	assert.Contains(t, got, "_consultando get_sales_insights..._")
	assert.Contains(t, got, "Seus melhores clientes são...")

	require.Len(t, client.session.toolResults, 1)
	assert.Equal(t, "get_sales_insights", client.session.toolResults[0].name)
	assert.Equal(t, "| Cliente | Faturamento |", client.session.toolResults[0].payload["content"])
}

func TestChatSuppressesProgressMarkers(t *testing.T) {
	registry := NewRegistry()
	registry.Register(llm.ToolSpec{Name: "get_product_catalog"}, func(context.Context, map[string]any, *Scope) (string, error) {
		return "catálogo", nil
	})

	client := &scriptClient{session: &scriptSession{
		initial: &scriptStream{chunks: []*llm.Chunk{
			{Call: &llm.ToolCall{Name: "get_product_catalog"}},
		}},
		continuations: []*scriptStream{
			{chunks: []*llm.Chunk{{Text: "Temos 12 SKUs ativos."}}},
		},
	}}
	svc := newTestChatService(client, registry)

	got := svc.Chat(context.Background(), "o que temos no catálogo?", nil, "")
	assert.Equal(t, "Temos 12 SKUs ativos.", got)
	assert.NotContains(t, got, "consultando")
}

func TestChatTrimsHistoryToWindow(t *testing.T) {
	client := &scriptClient{session: &scriptSession{initial: &scriptStream{chunks: []*llm.Chunk{{Text: "ok"}}}}}
	svc := newTestChatService(client, nil)

	history := make([]llm.Turn, 20)
	for i := range history {
		history[i] = llm.Turn{Role: llm.RoleUser, Text: fmt.Sprintf("mensagem %d", i)}
	}
	svc.Chat(context.Background(), "oi", history, "")

	require.Len(t, client.lastCfg.History, historyWindow)
	assert.Equal(t, "mensagem 14", client.lastCfg.History[0].Text)
	assert.Equal(t, "mensagem 19", client.lastCfg.History[len(client.lastCfg.History)-1].Text)
}

func TestChatSkipsMalformedChunks(t *testing.T) {
	client := &scriptClient{session: &scriptSession{initial: &scriptStream{chunks: []*llm.Chunk{
		{},
		{Text: "resposta"},
	}}}}
	svc := newTestChatService(client, nil)

	got := svc.Chat(context.Background(), "oi", nil, "")
	assert.Equal(t, "resposta", got)
}

func TestChatStreamErrorEmitsDiagnostic(t *testing.T) {
	client := &scriptClient{session: &scriptSession{initial: &scriptStream{
		chunks: []*llm.Chunk{{Text: "comecei a responder"}},
		err:    errors.New("connection reset"),
	}}}
	svc := newTestChatService(client, nil)

	got := collect(svc.ChatStream(context.Background(), "oi", nil, ""))
	assert.Contains(t, got, "comecei a responder")
	assert.Contains(t, got, "interrompida")
}

func TestChatSessionFailureEmitsApology(t *testing.T) {
	client := &scriptClient{sessionErr: errors.New("api key rejected")}
	svc := newTestChatService(client, nil)

	got := svc.Chat(context.Background(), "oi", nil, "")
	assert.Equal(t, modelUnavailableMsg, got)
}

func TestChatStopsRunawayToolLoop(t *testing.T) {
	registry := NewRegistry()
	calls := 0
	registry.Register(llm.ToolSpec{Name: "get_sales_insights"}, func(context.Context, map[string]any, *Scope) (string, error) {
		calls++
		return "dados", nil
	})

	// The model keeps asking for the same tool forever.
	loop := func() *scriptStream {
		return &scriptStream{chunks: []*llm.Chunk{{Call: &llm.ToolCall{Name: "get_sales_insights"}}}}
	}
	session := &scriptSession{initial: loop()}
	for i := 0; i < 20; i++ {
		session.continuations = append(session.continuations, loop())
	}
	client := &scriptClient{session: session}
	svc := newTestChatService(client, registry)

	got := svc.Chat(context.Background(), "oi", nil, "")

	assert.Equal(t, maxToolRounds, calls, "tool must stop executing at the round limit")
	assert.Contains(t, got, "não consegui concluir")

	// Past the limit the model is told to wrap up instead of getting data.
	require.Greater(t, len(session.toolResults), maxToolRounds)
	lastPayload := session.toolResults[len(session.toolResults)-1].payload
	assert.Contains(t, lastPayload, "error")
}

func TestTrimHistory(t *testing.T) {
	short := []llm.Turn{{Text: "a"}, {Text: "b"}}
	assert.Equal(t, short, trimHistory(short, 6))
	assert.Len(t, trimHistory(make([]llm.Turn, 10), 6), 6)
}
