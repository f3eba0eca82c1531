package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/falimentos/mariia/internal/llm"
	"github.com/falimentos/mariia/internal/observability"
)

const (
	// historyWindow is how many prior turns accompany each request. The
	// client resends the whole conversation; only the tail reaches the model.
	historyWindow = 6

	// maxToolRounds bounds tool round-trips within a single turn. One round
	// is the expected shape; past the bound the model is told to answer with
	// what it already has.
	maxToolRounds = 3
)

// ChatService runs one conversational turn end to end: classify the intent,
// resolve the seller scope, open a model session with the tool declarations,
// and relay text while servicing tool calls until the model finishes.
type ChatService struct {
	llm          llm.Client
	classifier   *Classifier
	resolver     *SellerResolver
	registry     *Registry
	dispatcher   *Dispatcher
	metrics      *observability.Metrics
	log          *slog.Logger
	modelTimeout time.Duration
}

func NewChatService(
	client llm.Client,
	classifier *Classifier,
	resolver *SellerResolver,
	registry *Registry,
	dispatcher *Dispatcher,
	metrics *observability.Metrics,
	log *slog.Logger,
	modelTimeout time.Duration,
) *ChatService {
	return &ChatService{
		llm:          client,
		classifier:   classifier,
		resolver:     resolver,
		registry:     registry,
		dispatcher:   dispatcher,
		metrics:      metrics,
		log:          log,
		modelTimeout: modelTimeout,
	}
}

// ChatStream runs a turn and streams text fragments as the model produces
// them. The channel is closed by the producer when the turn is over; the
// caller stops receiving by cancelling ctx.
func (s *ChatService) ChatStream(ctx context.Context, message string, history []llm.Turn, sellerID string) <-chan string {
	out := make(chan string, 8)
	go func() {
		defer close(out)
		s.run(ctx, message, history, sellerID, func(text string) bool {
			select {
			case out <- text:
				return true
			case <-ctx.Done():
				return false
			}
		}, true)
	}()
	return out
}

// Chat is the non-streaming variant: the same pipeline, collected into one
// reply. Tool progress markers are suppressed since there is no live reader.
func (s *ChatService) Chat(ctx context.Context, message string, history []llm.Turn, sellerID string) string {
	var b strings.Builder
	s.run(ctx, message, history, sellerID, func(text string) bool {
		b.WriteString(text)
		return true
	}, false)
	return strings.TrimSpace(b.String())
}

const modelUnavailableMsg = "Desculpe, não consegui falar com o modelo agora. Tente novamente em instantes."

func (s *ChatService) run(ctx context.Context, message string, history []llm.Turn, sellerID string, emit func(string) bool, progress bool) {
	intent := s.classifier.Classify(ctx, message, history)
	s.metrics.ChatTurns.WithLabelValues(string(intent)).Inc()

	scope := s.resolver.Resolve(ctx, sellerID)
	s.log.Info("chat turn", "intent", intent, "scoped", scope != nil)

	session, err := s.llm.NewSession(llm.SessionConfig{
		SystemInstruction: systemInstructionFor(intent, scope),
		Tools:             s.registry.Specs(),
		History:           trimHistory(history, historyWindow),
		Temperature:       0.7,
		MaxOutputTokens:   8192,
	})
	if err != nil {
		s.log.Error("could not open model session", "error", err)
		emit(modelUnavailableMsg)
		return
	}

	mctx, cancel := context.WithTimeout(ctx, s.modelTimeout)
	defer cancel()

	stream, err := session.SendMessage(mctx, message)
	if err != nil {
		s.log.Error("initial model call failed", "error", err)
		emit(modelUnavailableMsg)
		return
	}

	toolRounds := 0
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			s.log.Error("model stream failed mid-turn", "error", err)
			emit("\n\nDesculpe, a resposta foi interrompida por um erro no modelo.")
			return
		}

		switch {
		case chunk.Call != nil:
			call := *chunk.Call
			if progress {
				if !emit(fmt.Sprintf("\n_consultando %s..._\n", call.Name)) {
					return
				}
			}

			var payload map[string]any
			if toolRounds >= maxToolRounds {
				if toolRounds >= 2*maxToolRounds {
					s.log.Error("model would not stop requesting tools", "tool", call.Name, "rounds", toolRounds)
					emit("\n\nDesculpe, não consegui concluir a análise desta vez.")
					return
				}
				s.log.Warn("tool round limit reached", "tool", call.Name, "rounds", toolRounds)
				payload = map[string]any{
					"error": "limite de consultas atingido nesta resposta; responda com os dados já obtidos",
				}
			} else {
				payload = s.dispatcher.Execute(ctx, call, scope)
			}
			toolRounds++

			stream, err = session.SendToolResult(mctx, call.Name, payload)
			if err != nil {
				s.log.Error("returning tool result to model failed", "tool", call.Name, "error", err)
				emit("\n\n" + modelUnavailableMsg)
				return
			}
		case chunk.Text != "":
			s.metrics.StreamChunks.Inc()
			if !emit(chunk.Text) {
				return
			}
		default:
			s.log.Debug("skipping malformed model chunk")
		}
	}
}

func trimHistory(history []llm.Turn, max int) []llm.Turn {
	if len(history) <= max {
		return history
	}
	return history[len(history)-max:]
}
