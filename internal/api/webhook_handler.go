package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kwestin/docsmith-api/internal/api/shared"
	"github.com/kwestin/docsmith-api/internal/platform/logger"
	"github.com/kwestin/docsmith-api/internal/service"
)

// WorkerSecretHeader carries the pre-shared credential on every worker
// callback delivery.
const WorkerSecretHeader = "X-Worker-Secret"

// CallbackProcessor applies an authenticated worker callback.
type CallbackProcessor interface {
	HandleCallback(ctx context.Context, payload *service.CallbackPayload) error
}

// WebhookHandler receives job-completion callbacks from the external
// worker. Deliveries are at-least-once; the callback service guarantees
// each result is applied at most once, so this handler can acknowledge
// duplicates with a 200 and let the worker stop retrying.
type WebhookHandler struct {
	callbacks CallbackProcessor
	secret    string
	logger    *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(callbacks CallbackProcessor, secret string, logger *slog.Logger) *WebhookHandler {
	if callbacks == nil {
		panic("callback service cannot be nil")
	}
	if secret == "" {
		panic("webhook secret cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookHandler{
		callbacks: callbacks,
		secret:    secret,
		logger:    logger.With(slog.String("component", "webhook_handler")),
	}
}

// HandleWorkerCallback handles POST /api/webhooks/worker requests.
//
// Responses: 200 on successful processing or an idempotent no-op, 400 on
// a malformed payload, 401 on a missing or wrong credential, 500 on a
// persistence failure (the worker retries on 5xx).
func (h *WebhookHandler) HandleWorkerCallback(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	// Authenticity comes first; nothing is read or written before it.
	presented := r.Header.Get(WorkerSecretHeader)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(h.secret)) != 1 {
		log.Warn("webhook delivery with missing or invalid credential",
			"remote_addr", r.RemoteAddr)
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid worker credential")
		return
	}

	var payload service.CallbackPayload
	if err := shared.DecodeJSON(r, &payload); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(&payload); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	if err := h.callbacks.HandleCallback(r.Context(), &payload); err != nil {
		switch {
		case errors.Is(err, service.ErrMalformedPayload), errors.Is(err, service.ErrUnknownEntity):
			shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Unprocessable callback payload", err)
		default:
			// 5xx tells the worker to redeliver; the idempotency gate makes
			// the retry safe.
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to process callback", err)
		}
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
