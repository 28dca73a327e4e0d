package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/services"
)

const maxWebhookBodySize int64 = 64 * 1024

// NotificationParser verifies and decodes a gateway webhook. Implemented by payments.Manager.
type NotificationParser interface {
	ParseNotification(provider string, payload []byte, header http.Header) (payments.Notification, error)
}

// PaymentWebhookHandlers receives gateway notifications and hands them to the reconciler.
type PaymentWebhookHandlers struct {
	parser     NotificationParser
	reconciler services.PaymentReconciler
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// PaymentWebhookOption customises PaymentWebhookHandlers.
type PaymentWebhookOption func(*PaymentWebhookHandlers)

// WithWebhookLogger routes webhook events to logger.
func WithWebhookLogger(logger func(ctx context.Context, event string, fields map[string]any)) PaymentWebhookOption {
	return func(h *PaymentWebhookHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewPaymentWebhookHandlers constructs the payment webhook endpoint.
func NewPaymentWebhookHandlers(parser NotificationParser, reconciler services.PaymentReconciler, opts ...PaymentWebhookOption) *PaymentWebhookHandlers {
	h := &PaymentWebhookHandlers{
		parser:     parser,
		reconciler: reconciler,
		logger:     func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers POST /payments/{provider}.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.handlePayment)
}

type webhookAckPayload struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
	OrderID  string `json:"orderId,omitempty"`
	Status   string `json:"status,omitempty"`
}

func (h *PaymentWebhookHandlers) handlePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.parser == nil || h.reconciler == nil {
		serviceUnavailable(ctx, w, "webhook_unavailable", "payment webhooks unavailable")
		return
	}
	provider := strings.TrimSpace(chi.URLParam(r, "provider"))

	payload, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_webhook", err.Error(), status))
		return
	}

	note, err := h.parser.ParseNotification(provider, payload, r.Header)
	switch {
	case err == nil:
	case errors.Is(err, payments.ErrUnsupportedProvider):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_provider", "payment provider is not configured", http.StatusNotFound))
		return
	case errors.Is(err, payments.ErrInvalidSignature):
		h.logger(ctx, "webhook.payment.signature_rejected", map[string]any{"provider": provider})
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	case errors.Is(err, payments.ErrNotificationIgnored):
		writeJSONResponse(w, http.StatusOK, webhookAckPayload{Received: true, Outcome: "ignored"})
		return
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_webhook", "webhook payload could not be parsed", http.StatusBadRequest))
		return
	}

	result, err := h.reconciler.Reconcile(ctx, note)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrReconcileInvalidNotification):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_webhook", err.Error(), http.StatusBadRequest))
		case errors.Is(err, services.ErrReconcileGatewayUnavailable), errors.Is(err, services.ErrReconcileUnavailable):
			// 503 asks the gateway to redeliver later.
			serviceUnavailable(ctx, w, "reconcile_unavailable", "payment reconciliation temporarily unavailable")
		default:
			httpx.WriteError(ctx, w, httpx.NewError("reconcile_failed", "failed to reconcile payment", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookAckPayload{
		Received: true,
		Outcome:  string(result.Outcome),
		OrderID:  result.OrderID,
		Status:   string(result.Status),
	})
}
