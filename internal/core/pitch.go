package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/falimentos/mariia/internal/llm"
	"github.com/falimentos/mariia/internal/store"
)

// ErrInvalidFeedback marks a feedback value outside the accepted set, so the
// HTTP layer can map it to a client error.
var ErrInvalidFeedback = errors.New("feedback inválido: use positive ou negative")

// PitchLogger is the persistence slice the pitch flow needs.
type PitchLogger interface {
	LogPitchUsage(ctx context.Context, usage store.PitchUsage) error
	LogPitchFeedback(ctx context.Context, pitchID, feedbackType, userID string) error
}

// Pitch is a generated call script for one customer, grounded on their
// purchasing profile.
type Pitch struct {
	PitchID             string   `json:"pitch_id"`
	CardCode            string   `json:"card_code"`
	TargetSKU           string   `json:"target_sku,omitempty"`
	PitchText           string   `json:"pitch_text"`
	ProfileSummary      string   `json:"profile_summary"`
	FrequencyAssessment string   `json:"frequency_assessment"`
	SuggestedOrder      []string `json:"suggested_order"`
	Reasons             []string `json:"reasons"`
}

type PitchService struct {
	llm      llm.Client
	tools    *SalesTools
	resolver *SellerResolver
	pitches  PitchLogger
	log      *slog.Logger
	timeout  time.Duration
}

func NewPitchService(client llm.Client, tools *SalesTools, resolver *SellerResolver, pitches PitchLogger, log *slog.Logger, timeout time.Duration) *PitchService {
	return &PitchService{
		llm:      client,
		tools:    tools,
		resolver: resolver,
		pitches:  pitches,
		log:      log,
		timeout:  timeout,
	}
}

// Generate builds the customer's profile, asks the model for a structured
// pitch, and records the usage. A model reply that is not valid JSON is
// degraded to plain pitch text instead of failing the request.
func (s *PitchService) Generate(ctx context.Context, cardCode, targetSKU, sellerID string) (*Pitch, error) {
	scope := s.resolver.Resolve(ctx, sellerID)

	profile, err := s.tools.ProfileText(ctx, cardCode, scope)
	if err != nil {
		return nil, fmt.Errorf("building customer profile: %w", err)
	}

	var prompt strings.Builder
	prompt.WriteString(profile)
	if targetSKU != "" {
		fmt.Fprintf(&prompt, "\n\nO vendedor quer empurrar especificamente o SKU %s nesta ligação.", targetSKU)
	}

	mctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.llm.GenerateJSON(mctx, pitchInstruction, prompt.String())
	if err != nil {
		return nil, fmt.Errorf("pitch generation: %w", err)
	}

	pitch := &Pitch{
		PitchID:   uuid.NewString(),
		CardCode:  cardCode,
		TargetSKU: targetSKU,
	}
	if err := json.Unmarshal(raw, pitch); err != nil {
		s.log.Warn("pitch response was not valid JSON, keeping raw text", "card_code", cardCode, "error", err)
		pitch.PitchText = strings.TrimSpace(string(raw))
	}
	if pitch.PitchText == "" {
		pitch.PitchText = "Não consegui montar um pitch com os dados disponíveis. Consulte o perfil do cliente e tente novamente."
	}
	if pitch.SuggestedOrder == nil {
		pitch.SuggestedOrder = []string{}
	}
	if pitch.Reasons == nil {
		pitch.Reasons = []string{}
	}

	// Best effort: a logging failure must not cost the seller their pitch.
	if err := s.pitches.LogPitchUsage(ctx, store.PitchUsage{
		PitchID:   pitch.PitchID,
		CardCode:  cardCode,
		TargetSKU: targetSKU,
		PitchText: pitch.PitchText,
		UserID:    sellerID,
		CreatedAt: time.Now(),
	}); err != nil {
		s.log.Warn("could not log pitch usage", "pitch_id", pitch.PitchID, "error", err)
	}

	return pitch, nil
}

// Feedback records whether a pitch worked on the call.
func (s *PitchService) Feedback(ctx context.Context, pitchID, feedbackType, sellerID string) error {
	switch feedbackType {
	case "positive", "negative":
	default:
		return fmt.Errorf("%q: %w", feedbackType, ErrInvalidFeedback)
	}
	if err := s.pitches.LogPitchFeedback(ctx, pitchID, feedbackType, sellerID); err != nil {
		return fmt.Errorf("recording pitch feedback: %w", err)
	}
	return nil
}
