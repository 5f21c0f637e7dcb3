// Webhook ingestion HTTP handler.
//
// This file exposes the provider-facing endpoint:
//   - POST /webhooks/telephony
//
// The handler is transport-thin: it authenticates the delivery, hands the
// raw body to the ingestion service, and translates the result into the
// provider's acknowledgement contract:
//
//   - 401 for any signature failure (missing key, malformed header, bad MAC)
//   - 200 {"status":"success"} for everything the service could account for,
//     including malformed payloads, unknown event types, and deferred events
//   - 500 only when the deferred event could not be persisted for retry,
//     the one case where a provider redelivery is the correct recovery
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fieldlane/go-crm-webhooks/internal/http/middleware"
	"github.com/fieldlane/go-crm-webhooks/internal/services"
	"github.com/fieldlane/go-crm-webhooks/internal/webhook"
)

// HeaderSignature carries the provider's delivery signature.
const HeaderSignature = "X-Telephony-Signature"

//
// Service contracts (context-aware)
//

// IngestService applies an authenticated delivery body to domain state.
// Implementations must be safe for concurrent use.
type IngestService interface {
	// ProcessDelivery decodes and applies one delivery, enqueueing it for
	// retry when deferred. A non-nil error means the retry entry could not
	// be persisted and the delivery must not be acknowledged.
	ProcessDelivery(ctx context.Context, raw []byte) (services.Outcome, error)
}

// HandleWebhook godoc
// @ID          ingestTelephonyEvent
// @Summary     Ingest a telephony provider event
// @Description Verifies the delivery signature and applies the event to CRM state. Always acknowledges decodable-or-not payloads with 200 unless persistence of a retry entry fails.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       X-Telephony-Signature  header  string  true  "Delivery signature (scheme;version;timestamp;base64 MAC)"
// @Param       body                   body    object  true  "Provider event envelope"
//
// @Success     200  {object}  map[string]string
// @Failure     401  {object}  handlers.ErrorResponse  "Signature verification failed"
// @Failure     500  {object}  handlers.ErrorResponse  "Retry entry could not be persisted"
// @Router      /webhooks/telephony [post]
func (h *Handlers) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable request body")
		return
	}

	if err := h.verifier.Verify(c.GetHeader(HeaderSignature), body); err != nil {
		lg := middleware.LoggerFrom(c)
		lg.Warn().Err(err).Msg("webhook signature rejected")
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, verifyMessage(err))
		return
	}

	outcome, err := h.ingest.ProcessDelivery(c.Request.Context(), body)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeEnqueueFailed, "event could not be queued for retry")
		return
	}

	lg := middleware.LoggerFrom(c)
	lg.Info().Str("outcome", outcome.String()).Msg("webhook processed")
	ok(c, http.StatusOK, gin.H{"status": "success"})
}

// verifyMessage maps verifier errors onto client-safe messages. The exact
// failure mode is logged server-side but not leaked to the caller.
func verifyMessage(err error) string {
	switch {
	case errors.Is(err, webhook.ErrSigningKeyMissing):
		return "webhook signing key not configured"
	case errors.Is(err, webhook.ErrMalformedHeader):
		return "malformed signature header"
	default:
		return "invalid signature"
	}
}
