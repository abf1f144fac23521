package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/bharath3010/curalink-backend/internal/http/respond"
	"github.com/bharath3010/curalink-backend/pkg/logging"
)

const maxWebhookBytes = 1 << 20

type processedClaimer interface {
	Claim(ctx context.Context, provider, eventID string) (bool, error)
	Release(ctx context.Context, provider, eventID string) error
}

// WebhookHandler receives PayPal notifications.
type WebhookHandler struct {
	verifier  WebhookVerifier
	processed processedClaimer
	machine   eventApplier
	logger    *logging.Logger
}

func NewWebhookHandler(verifier WebhookVerifier, processed processedClaimer, machine eventApplier, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{verifier: verifier, processed: processed, machine: machine, logger: logger}
}

type paypalWebhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount struct {
			Value        string `json:"value"`
			CurrencyCode string `json:"currency_code"`
		} `json:"amount"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID   string `json:"order_id"`
				CaptureID string `json:"capture_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
		Links []Link `json:"links"`
	} `json:"resource"`
}

// providerEvent correlates completions and failures by order id and refunds
// by capture id.
func (e paypalWebhookEvent) providerEvent() ProviderEvent {
	evt := ProviderEvent{ID: e.ID, Type: e.EventType}
	if cents, err := ParseAmount(e.Resource.Amount.Value); err == nil {
		evt.AmountCents = cents
	}
	related := e.Resource.SupplementaryData.RelatedIDs
	switch e.EventType {
	case EventCaptureRefunded:
		evt.ReferenceID = related.CaptureID
		if evt.ReferenceID == "" {
			evt.ReferenceID = captureIDFromLinks(e.Resource.Links)
		}
		evt.CaptureID = evt.ReferenceID
	case EventCaptureCompleted:
		evt.ReferenceID = related.OrderID
		evt.CaptureID = e.Resource.ID
	default:
		evt.ReferenceID = related.OrderID
	}
	return evt
}

// captureIDFromLinks reads the capture id from a refund's "up" link.
func captureIDFromLinks(links []Link) string {
	for _, l := range links {
		if l.Rel == "up" && strings.Contains(l.Href, "/captures/") {
			return path.Base(l.Href)
		}
	}
	return ""
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid_body", "invalid body")
		return
	}

	if h.verifier != nil {
		ok, err := h.verifier.VerifyWebhookSignature(r.Context(), r.Header, body)
		if err != nil {
			h.logger.Error("paypal webhook verification failed", "error", err)
			respond.Error(w, http.StatusInternalServerError, "verification_failed", "could not verify webhook")
			return
		}
		if !ok {
			respond.Error(w, http.StatusUnauthorized, "unauthorized", "invalid webhook signature")
			return
		}
	}

	var evt paypalWebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		h.logger.Error("failed to decode paypal event", "error", err)
		respond.Error(w, http.StatusBadRequest, "invalid_body", "bad request")
		return
	}
	if evt.ID == "" {
		respond.Error(w, http.StatusBadRequest, "invalid_body", "missing event id")
		return
	}

	if h.processed != nil {
		claimed, err := h.processed.Claim(r.Context(), ProviderPayPal, evt.ID)
		if err != nil {
			h.logger.Error("processed lookup failed", "error", err)
			respond.Error(w, http.StatusInternalServerError, "storage_failure", "server error")
			return
		}
		if !claimed {
			respond.JSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
			return
		}
	}

	outcome, err := h.machine.ApplyProviderEvent(r.Context(), evt.providerEvent())
	if err != nil && !IsAcknowledgeable(err) {
		if h.processed != nil {
			if relErr := h.processed.Release(r.Context(), ProviderPayPal, evt.ID); relErr != nil {
				h.logger.Error("release webhook claim failed", "error", relErr, "event_id", evt.ID)
			}
		}
		h.logger.Error("paypal webhook processing failed", "error", err, "event_id", evt.ID, "event_type", evt.EventType)
		respond.Error(w, http.StatusInternalServerError, "storage_failure", "webhook processing failed")
		return
	}
	if err != nil {
		level := h.logger.Info
		if errors.Is(err, ErrUnknownReference) || errors.Is(err, ErrInvalidTransition) {
			level = h.logger.Warn
		}
		level("paypal webhook acknowledged without change", "reason", err.Error(), "event_id", evt.ID, "event_type", evt.EventType)
	}

	result := ResultIgnored
	if outcome != nil {
		result = outcome.Result
	}
	respond.JSON(w, http.StatusOK, map[string]any{"received": true, "result": result})
}
