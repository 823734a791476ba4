// Package frontdoor is the inbound HTTP API that starts bridged calls and
// reports on them.
package frontdoor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/callbridge/internal/core/domain"
	"github.com/tjfontaine/callbridge/internal/core/ports"
	"github.com/tjfontaine/callbridge/internal/orchestrator"
	"github.com/tjfontaine/callbridge/internal/server"
)

const maxBodyBytes = 64 << 10

// Acknowledgment is the body returned once a call's observation has ended.
const Acknowledgment = "Call done."

// CallStarter is the orchestration surface the handler drives.
type CallStarter interface {
	StartCall(ctx context.Context, req orchestrator.StartRequest) (*orchestrator.Result, error)
	Session(ctx context.Context, id string) (*domain.Session, error)
	Sessions(ctx context.Context, opts ports.ListOptions) ([]*domain.Session, error)
}

// StartCallRequest is the body of POST /start-call.
type StartCallRequest struct {
	SessionID string          `json:"sessionId,omitempty"`
	Customer  domain.Customer `json:"customer"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type Handler struct {
	calls  CallStarter
	logger *slog.Logger
}

func NewHandler(calls CallStarter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{calls: calls, logger: logger}
}

// Routes mounts the handler's endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.HandleHealth)
	r.Post("/start-call", h.HandleStartCall)
	r.Get("/sessions", h.HandleListSessions)
	r.Get("/sessions/{id}", h.HandleGetSession)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStartCall places a call and holds the request open until its
// observation ends.
func (h *Handler) HandleStartCall(w http.ResponseWriter, r *http.Request) {
	requestID := server.GetRequestID(r.Context())

	var req StartCallRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		server.AddError(r.Context(), err)
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.Customer.Number = strings.TrimSpace(req.Customer.Number)
	if req.Customer.Number == "" {
		err := errors.New("customer.number is required")
		server.AddError(r.Context(), err)
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	server.AddLogField(r.Context(), "session_id", req.SessionID)

	h.logger.Info("starting call",
		slog.String("request_id", requestID),
		slog.String("customer", req.Customer.Name))

	res, err := h.calls.StartCall(r.Context(), orchestrator.StartRequest{
		SessionID: req.SessionID,
		Customer:  req.Customer,
	})
	if err != nil {
		server.AddError(r.Context(), err)
		status := http.StatusInternalServerError
		if e, ok := domain.AsError(err); ok {
			status = e.HTTPStatusCode()
		}
		writeError(w, status, "Failed to start call", err)
		return
	}

	server.AddLogField(r.Context(), "session_id", res.SessionID)
	server.AddLogField(r.Context(), "call_id", res.CallID)
	server.AddLogField(r.Context(), "end_reason", string(res.Reason))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Session-ID", res.SessionID)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, Acknowledgment)
}

func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := h.calls.Session(r.Context(), id)
	if err != nil {
		server.AddError(r.Context(), err)
		if errors.Is(err, domain.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "Session not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// HandleListSessions accepts optional status, limit and offset query parameters.
func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := ports.ListOptions{Status: domain.SessionStatus(q.Get("status"))}

	var err error
	if opts.Limit, err = intParam(q.Get("limit"), 50); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	if opts.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid offset", err)
		return
	}

	sessions, err := h.calls.Sessions(r.Context(), opts)
	if err != nil {
		server.AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "Failed to list sessions", err)
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
