package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/falimentos/mariia/internal/auth"
	"github.com/falimentos/mariia/internal/config"
	"github.com/falimentos/mariia/internal/core"
	"github.com/falimentos/mariia/internal/llm"
	"github.com/falimentos/mariia/internal/store"
)

// ChatRunner is what the HTTP layer needs from the conversational core.
type ChatRunner interface {
	Chat(ctx context.Context, message string, history []llm.Turn, sellerID string) string
	ChatStream(ctx context.Context, message string, history []llm.Turn, sellerID string) <-chan string
}

type PitchProvider interface {
	Generate(ctx context.Context, cardCode, targetSKU, sellerID string) (*core.Pitch, error)
	Feedback(ctx context.Context, pitchID, feedbackType, sellerID string) error
}

// SalesData serves the plain REST endpoints that bypass the model.
type SalesData interface {
	InsightsRows(ctx context.Context, days int, scope *core.Scope) (*store.Rowset, error)
	InactiveRows(ctx context.Context, days int, scope *core.Scope) (*store.Rowset, error)
	CustomerHistoryRows(ctx context.Context, cardCode string, months int, scope *core.Scope) (*store.Rowset, error)
	CustomerTrendRows(ctx context.Context, cardCode string, months int, scope *core.Scope) (*store.Rowset, error)
	BalesBreakdownRows(ctx context.Context, cardCode string, scope *core.Scope) (*store.Rowset, error)
}

type ScopeResolver interface {
	Resolve(ctx context.Context, identifier string) *core.Scope
}

type APIHandler struct {
	chat     ChatRunner
	pitch    PitchProvider
	data     SalesData
	resolver ScopeResolver
	log      *slog.Logger
}

func NewAPIHandler(chat ChatRunner, pitch PitchProvider, data SalesData, resolver ScopeResolver, log *slog.Logger) *APIHandler {
	return &APIHandler{chat: chat, pitch: pitch, data: data, resolver: resolver, log: log}
}

type ctxKey string

const ctxSellerID ctxKey = "sellerID"

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		sellerID, err := auth.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ctxSellerID, sellerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sellerFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxSellerID).(string)
	return id
}

type LoginRequest struct {
	SellerCode string `json:"seller_code"`
	AccessKey  string `json:"access_key"`
}

// LoginHandler exchanges the shared access key for a JWT carrying the seller
// identity. An empty seller_code yields an unscoped (administrative) token.
func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.AccessKey == "" || req.AccessKey != config.AppConfig.AccessKey {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(strings.TrimSpace(req.SellerCode))
	if err != nil {
		h.log.Error("could not issue token", "error", err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type ChatRequest struct {
	Message string     `json:"message"`
	History []llm.Turn `json:"history"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	reply := h.chat.Chat(r.Context(), req.Message, req.History, sellerFromContext(r.Context()))
	writeJSON(w, http.StatusOK, map[string]string{"response": reply})
}

// ChatStreamHandler relays model output as it arrives, as plain text chunks.
// Closing the connection cancels the request context; any in-flight tool
// query still completes so its result lands in the cache.
func (h *APIHandler) ChatStreamHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	for chunk := range h.chat.ChatStream(r.Context(), req.Message, req.History, sellerFromContext(r.Context())) {
		if _, err := w.Write([]byte(chunk)); err != nil {
			return
		}
		flusher.Flush()
	}
}

type PitchRequest struct {
	CardCode  string `json:"card_code"`
	TargetSKU string `json:"target_sku"`
}

func (h *APIHandler) PitchHandler(w http.ResponseWriter, r *http.Request) {
	var req PitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.CardCode) == "" {
		http.Error(w, "card_code is required", http.StatusBadRequest)
		return
	}

	pitch, err := h.pitch.Generate(r.Context(), strings.TrimSpace(req.CardCode), strings.TrimSpace(req.TargetSKU), sellerFromContext(r.Context()))
	if err != nil {
		h.log.Error("pitch generation failed", "card_code", req.CardCode, "error", err)
		http.Error(w, "Failed to generate pitch", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pitch)
}

type PitchFeedbackRequest struct {
	PitchID  string `json:"pitch_id"`
	Feedback string `json:"feedback"`
}

func (h *APIHandler) PitchFeedbackHandler(w http.ResponseWriter, r *http.Request) {
	var req PitchFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.PitchID == "" || req.Feedback == "" {
		http.Error(w, "pitch_id and feedback are required", http.StatusBadRequest)
		return
	}

	err := h.pitch.Feedback(r.Context(), req.PitchID, req.Feedback, sellerFromContext(r.Context()))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, core.ErrInvalidFeedback):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrPitchNotFound):
		http.Error(w, "Pitch not found", http.StatusNotFound)
	default:
		h.log.Error("pitch feedback failed", "pitch_id", req.PitchID, "error", err)
		http.Error(w, "Failed to record feedback", http.StatusInternalServerError)
	}
}

func (h *APIHandler) InsightsHandler(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30, 1, 365)
	scope := h.resolver.Resolve(r.Context(), sellerFromContext(r.Context()))

	rs, err := h.data.InsightsRows(r.Context(), days, scope)
	if err != nil {
		h.log.Error("insights query failed", "error", err)
		http.Error(w, "Failed to load insights", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "customers": rs.Records()})
}

func (h *APIHandler) InactiveHandler(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30, 1, 365)
	scope := h.resolver.Resolve(r.Context(), sellerFromContext(r.Context()))

	rs, err := h.data.InactiveRows(r.Context(), days, scope)
	if err != nil {
		h.log.Error("inactive customers query failed", "error", err)
		http.Error(w, "Failed to load inactive customers", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "customers": rs.Records()})
}

func (h *APIHandler) CustomerHandler(w http.ResponseWriter, r *http.Request) {
	cardCode := chi.URLParam(r, "cardCode")
	if cardCode == "" {
		http.Error(w, "cardCode is required", http.StatusBadRequest)
		return
	}
	months := queryInt(r, "months", 3, 1, 24)
	scope := h.resolver.Resolve(r.Context(), sellerFromContext(r.Context()))

	rs, err := h.data.CustomerHistoryRows(r.Context(), cardCode, months, scope)
	if err != nil {
		h.log.Error("customer history query failed", "card_code", cardCode, "error", err)
		http.Error(w, "Failed to load customer history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card_code": cardCode, "months": months, "purchases": rs.Records()})
}

// CustomerTrendsHandler returns the month-by-month buying trend of one
// customer. Served on two paths because existing clients call both shapes.
func (h *APIHandler) CustomerTrendsHandler(w http.ResponseWriter, r *http.Request) {
	cardCode := chi.URLParam(r, "cardCode")
	if cardCode == "" {
		http.Error(w, "cardCode is required", http.StatusBadRequest)
		return
	}
	months := queryInt(r, "months", 6, 1, 24)
	scope := h.resolver.Resolve(r.Context(), sellerFromContext(r.Context()))

	rs, err := h.data.CustomerTrendRows(r.Context(), cardCode, months, scope)
	if err != nil {
		h.log.Error("customer trends query failed", "card_code", cardCode, "error", err)
		http.Error(w, "Failed to load customer trends", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card_code": cardCode, "months": months, "trend": rs.Records()})
}

func (h *APIHandler) BalesBreakdownHandler(w http.ResponseWriter, r *http.Request) {
	cardCode := chi.URLParam(r, "cardCode")
	if cardCode == "" {
		http.Error(w, "cardCode is required", http.StatusBadRequest)
		return
	}
	scope := h.resolver.Resolve(r.Context(), sellerFromContext(r.Context()))

	rs, err := h.data.BalesBreakdownRows(r.Context(), cardCode, scope)
	if err != nil {
		h.log.Error("bales breakdown query failed", "card_code", cardCode, "error", err)
		http.Error(w, "Failed to load bales breakdown", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card_code": cardCode, "breakdown": rs.Records()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def, min, max int) int {
	n := def
	if raw := r.URL.Query().Get(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
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
