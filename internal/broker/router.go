package broker

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/radio-trainer/internal/observability"
	"github.com/lexiqai/radio-trainer/internal/token"
)

// RouterOptions configures the shared middleware stack
type RouterOptions struct {
	AllowedOrigins []string
	MaxConcurrent  int // 0 disables throttling
}

// NewRouter returns a chi router with the middleware stack and the token
// routes mounted. Callers add their own routes on top.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger)
	r.Use(middleware.Recoverer)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	// Throttling covers the token routes only; websocket sessions are long lived.
	r.Group(func(r chi.Router) {
		if opts.MaxConcurrent > 0 {
			r.Use(middleware.Throttle(opts.MaxConcurrent))
		}
		h.RegisterRoutes(r)
	})
	return r
}

// Handler serves POST /token/{provider}
type Handler struct {
	source token.Source
	log    zerolog.Logger
}

// NewHandler creates a token handler backed by source
func NewHandler(source token.Source) *Handler {
	return &Handler{source: source, log: observability.Component("broker_http")}
}

// RegisterRoutes mounts the token routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/token/{provider}", h.handleToken)
}

type tokenRequest struct {
	SessionID string `json:"sessionId"`
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	var req tokenRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	logger := h.log.With().
		Str("provider", provider).
		Str("session_id", req.SessionID).
		Str("request_id", middleware.GetReqID(r.Context())).
		Logger()

	tok, err := h.source.Fetch(r.Context(), provider, req.SessionID)
	if err != nil {
		if errors.Is(err, ErrUnknownProvider) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		logger.Error().Err(err).Msg("token mint failed")
		observability.RecordError("token_mint", "broker")
		respondError(w, http.StatusBadGateway, "failed to obtain "+provider+" token")
		return
	}

	logger.Info().Int64("expires_at", tok.ExpiresAt).Msg("token issued")
	respondJSON(w, http.StatusOK, tok)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
