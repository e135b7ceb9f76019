package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"assistgate/internal/llm"
	"assistgate/internal/metrics"
	"assistgate/internal/middleware"
	"assistgate/internal/orchestrator"
	"assistgate/pkg/logging/logging"
)

// ErrEmptyPrompt rejects requests whose prompt is blank before they reach
// the orchestrator.
var ErrEmptyPrompt = errors.New("prompt is empty")

// RequestHandler serves POST /v1/requests.
type RequestHandler struct {
	Orchestrator *orchestrator.Orchestrator
}

func NewRequestHandler(o *orchestrator.Orchestrator) *RequestHandler {
	return &RequestHandler{Orchestrator: o}
}

// Process decodes {action, prompt, user_id}, runs it through the
// orchestrator and answers {action, output, cached}.
// The user id falls back to the X-User-ID header.
func (h *RequestHandler) Process(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	var req orchestrator.Request
	if !decodeJSON(w, r, &req) {
		logger.Warn("invalid request body")
		return
	}
	if req.UserID == "" {
		req.UserID = r.Header.Get(middleware.UserIDHeader)
	}

	var resp orchestrator.Response
	var err error
	if strings.TrimSpace(req.Prompt) == "" {
		err = ErrEmptyPrompt
	} else {
		resp, err = h.Orchestrator.Process(ctx, req)
	}
	outcome := outcomeOf(resp, err)
	metrics.OrchestratorRequests.WithLabelValues(metricAction(req.Action, resp), outcome).Inc()

	if err != nil {
		status, code := statusFor(err)
		logger.Warn("request_failed",
			zap.String("action", req.Action),
			zap.String("outcome", outcome),
			zap.Int("status", status),
			zap.Error(err),
			zap.Duration("total_latency_ms", time.Since(start)),
		)
		writeError(w, status, code, err)
		return
	}

	logger.Info("cache_decision",
		zap.String("action", string(resp.Action)),
		zap.String("user_id", req.UserID),
		zap.Bool("cache_hit", resp.Cached),
		zap.Duration("total_latency_ms", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, orchestrator.ErrUnrecognizedAction):
		return http.StatusBadRequest, "unrecognized_action"
	case errors.Is(err, ErrEmptyPrompt):
		return http.StatusBadRequest, "empty_prompt"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "gateway_timeout"
	case llm.IsProviderError(err):
		return http.StatusBadGateway, "provider_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func outcomeOf(resp orchestrator.Response, err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrUnrecognizedAction), errors.Is(err, ErrEmptyPrompt):
		return "rejected"
	case err != nil:
		return "error"
	case resp.Action == orchestrator.ActionDirectCompute:
		return "direct"
	case resp.Cached:
		return "hit"
	default:
		return "miss"
	}
}

// metricAction keeps the label set bounded to known actions.
func metricAction(tag string, resp orchestrator.Response) string {
	if resp.Action != "" {
		return string(resp.Action)
	}
	if a, err := orchestrator.ParseAction(tag); err == nil {
		return string(a)
	}
	return "unknown"
}
