package core

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/falimentos/mariia/internal/llm"
)

// Intent is one of the closed set of labels the prompt composition depends
// on. Exactly one label is always produced.
type Intent string

const (
	IntentCustomerDetail    Intent = "CUSTOMER_DETAIL"
	IntentSalesOperational  Intent = "SALES_OPERATIONAL"
	IntentDirectorStrategic Intent = "DIRECTOR_STRATEGIC"
	IntentCatalog           Intent = "CATALOG"
	IntentChitChat          Intent = "CHIT_CHAT"
)

var allIntents = []Intent{
	IntentCustomerDetail,
	IntentSalesOperational,
	IntentDirectorStrategic,
	IntentCatalog,
	IntentChitChat,
}

var customerCodeRe = regexp.MustCompile(`(?i)\bC\d+\b`)

var directorKeywords = []string{
	"margem", "faturamento", "lucro", "receita", "meta", "resultado", "estrateg",
}

var catalogKeywords = []string{
	"produto", "catalogo", "catálogo", "sku", "preço", "preco", "tabela de vendas",
}

var salesOperationalKeywords = []string{
	"carteira", "ligar", "inativ", "parado", "cliente", "venda", "melhores", "top",
}

type Classifier struct {
	llm llm.Client
	log *slog.Logger
}

func NewClassifier(client llm.Client, log *slog.Logger) *Classifier {
	return &Classifier{llm: client, log: log}
}

// Classify labels a user message. The model path can fail (network, quota,
// garbage output); the keyword fallback cannot, so this never errors.
func (c *Classifier) Classify(ctx context.Context, message string, history []llm.Turn) Intent {
	label, err := c.llm.Classify(ctx, classifierInstruction, classifierPrompt(message, history))
	if err != nil {
		c.log.Warn("intent classification call failed, using keyword fallback", "error", err)
		return keywordIntent(message)
	}
	if intent, ok := parseIntent(label); ok {
		return intent
	}
	c.log.Warn("intent classification returned unrecognized label, using keyword fallback", "label", label)
	return keywordIntent(message)
}

func parseIntent(label string) (Intent, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(label))
	for _, intent := range allIntents {
		if normalized == string(intent) {
			return intent, true
		}
	}
	return "", false
}

// keywordIntent is the deterministic secondary path. It is the only
// classifier path that works with the network down, so it gets first-class
// treatment and its own tests.
func keywordIntent(message string) Intent {
	if customerCodeRe.MatchString(message) {
		return IntentCustomerDetail
	}

	lower := strings.ToLower(message)
	for _, kw := range directorKeywords {
		if strings.Contains(lower, kw) {
			return IntentDirectorStrategic
		}
	}
	for _, kw := range catalogKeywords {
		if strings.Contains(lower, kw) {
			return IntentCatalog
		}
	}
	for _, kw := range salesOperationalKeywords {
		if strings.Contains(lower, kw) {
			return IntentSalesOperational
		}
	}
	return IntentChitChat
}

func classifierPrompt(message string, history []llm.Turn) string {
	if len(history) == 0 {
		return message
	}
	// A short tail of the conversation disambiguates follow-ups like
	// "e os inativos?".
	start := len(history) - 2
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	for _, t := range history[start:] {
		fmt.Fprintf(&b, "[%s] %s\n", t.Role, t.Text)
	}
	b.WriteString("[user] ")
	b.WriteString(message)
	return b.String()
}
