package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	domain "github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/textutil"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	metadataOrderID       = "order_id"
	metadataOrderNumber   = "order_number"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
	intents  stripePaymentIntentAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey           string
	WebhookSecret    string
	AccountID        string
	WebhookTolerance time.Duration
	Backends         *stripe.Backends
	Logger           StripeLogger
	Clock            func() time.Time
	Clients          *stripeClients
}

// StripeProvider implements the Provider interface using Stripe Checkout Sessions and PaymentIntents.
type StripeProvider struct {
	api           stripeClients
	account       string
	webhookSecret string
	tolerance     time.Duration
	clock         func() time.Time
	logger        StripeLogger
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions: sc.CheckoutSessions,
			intents:  sc.PaymentIntents,
		}
	}
	if clients.sessions == nil || clients.intents == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	return &StripeProvider{
		api:           clients,
		account:       strings.TrimSpace(cfg.AccountID),
		webhookSecret: secret,
		tolerance:     tolerance,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreatePaymentIntent opens a Stripe Checkout session for the order identified by req.CorrelationID.
func (p *StripeProvider) CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if p == nil {
		return Intent{}, errors.New("stripe: provider is nil")
	}
	correlation := strings.TrimSpace(req.CorrelationID)
	if correlation == "" {
		return Intent{}, errors.New("stripe: correlation id is required")
	}
	if req.Total <= 0 {
		return Intent{}, errors.New("stripe: total must be positive")
	}

	metadata := map[string]string{metadataOrderID: correlation}
	if req.OrderNumber != "" {
		metadata[metadataOrderNumber] = req.OrderNumber
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(correlation),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: textutil.NormalizeStringMap(metadata),
		},
		LineItems: stripeLineItems(req),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	session, err := p.api.sessions.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	paymentID := ""
	if session.PaymentIntent != nil {
		paymentID = session.PaymentIntent.ID
	}
	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":     session.ID,
		"paymentIntent": paymentID,
		"orderId":       correlation,
	})

	expiresAt := p.clock().Add(24 * time.Hour)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return Intent{
		Provider:    "stripe",
		Reference:   session.ID,
		PaymentID:   paymentID,
		RedirectURL: session.URL,
		ExpiresAt:   expiresAt,
	}, nil
}

// FetchPayment retrieves a PaymentIntent together with its latest charge.
func (p *StripeProvider) FetchPayment(ctx context.Context, paymentID string) (Payment, error) {
	if p == nil {
		return Payment{}, errors.New("stripe: provider is nil")
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return Payment{}, fmt.Errorf("%w: empty id", ErrPaymentNotFound)
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.api.intents.Get(paymentID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && (stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing) {
			return Payment{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
		}
		return Payment{}, fmt.Errorf("stripe: fetch payment intent: %w", err)
	}
	if intent == nil {
		return Payment{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
	}
	return stripePayment(intent), nil
}

// ParseNotification verifies the Stripe-Signature header and extracts the payment hints.
func (p *StripeProvider) ParseNotification(payload []byte, header http.Header) (Notification, error) {
	if p == nil {
		return Notification{}, errors.New("stripe: provider is nil")
	}
	event, err := webhook.ConstructEventWithOptions(payload, header.Get(stripeSignatureHeader), p.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	note := Notification{
		Provider: "stripe",
		EventID:  event.ID,
		Type:     string(event.Type),
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return note, fmt.Errorf("%w: %s without data", ErrNotificationIgnored, event.Type)
	}

	eventType := string(event.Type)
	switch {
	case strings.HasPrefix(eventType, "payment_intent."):
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return note, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		note.PaymentID = intent.ID
		note.CorrelationID = intent.Metadata[metadataOrderID]
	case strings.HasPrefix(eventType, "checkout.session."):
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return note, fmt.Errorf("stripe: decode checkout session: %w", err)
		}
		if session.PaymentIntent != nil {
			note.PaymentID = session.PaymentIntent.ID
		}
		note.CorrelationID = firstNonEmpty(session.Metadata[metadataOrderID], session.ClientReferenceID)
	case strings.HasPrefix(eventType, "charge.dispute."):
		var dispute stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
			return note, fmt.Errorf("stripe: decode dispute: %w", err)
		}
		if dispute.PaymentIntent != nil {
			note.PaymentID = dispute.PaymentIntent.ID
		}
	case strings.HasPrefix(eventType, "charge."):
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return note, fmt.Errorf("stripe: decode charge: %w", err)
		}
		if charge.PaymentIntent != nil {
			note.PaymentID = charge.PaymentIntent.ID
		}
		note.CorrelationID = charge.Metadata[metadataOrderID]
	default:
		return note, fmt.Errorf("%w: %s", ErrNotificationIgnored, eventType)
	}

	if note.PaymentID == "" {
		return note, fmt.Errorf("%w: %s carries no payment intent", ErrNotificationIgnored, eventType)
	}
	return note, nil
}

func stripePayment(intent *stripe.PaymentIntent) Payment {
	currency := strings.ToUpper(string(intent.Currency))
	if currency == "" && intent.LatestCharge != nil {
		currency = strings.ToUpper(string(intent.LatestCharge.Currency))
	}
	return Payment{
		Provider:      "stripe",
		ID:            intent.ID,
		CorrelationID: intent.Metadata[metadataOrderID],
		Status:        stripePaymentStatus(intent),
		RawStatus:     string(intent.Status),
		Amount:        intent.Amount,
		Currency:      currency,
	}
}

// stripePaymentStatus folds the PaymentIntent status and its latest charge into the
// gateway-neutral payment status.
func stripePaymentStatus(intent *stripe.PaymentIntent) domain.PaymentStatus {
	status := domain.PaymentStatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = domain.PaymentStatusApproved
	case stripe.PaymentIntentStatusRequiresCapture:
		status = domain.PaymentStatusAuthorized
	case stripe.PaymentIntentStatusProcessing:
		status = domain.PaymentStatusInProcess
	case stripe.PaymentIntentStatusCanceled:
		status = domain.PaymentStatusCancelled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// A declined attempt leaves the session open for another card; only
		// cancellation or session expiry ends the payment.
		status = domain.PaymentStatusPending
	}

	charge := intent.LatestCharge
	if charge == nil || status != domain.PaymentStatusApproved {
		return status
	}
	switch {
	case charge.Disputed:
		return domain.PaymentStatusInMediation
	case charge.Refunded || (charge.Amount > 0 && charge.AmountRefunded >= charge.Amount):
		return domain.PaymentStatusRefunded
	}
	return status
}

func stripeLineItems(req IntentRequest) []*stripe.CheckoutSessionLineItemParams {
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	line := func(name string, qty, amount int64) *stripe.CheckoutSessionLineItemParams {
		return &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(qty),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
			},
		}
	}

	// Checkout sessions reject negative lines, so a discounted order is charged as one line.
	if req.Discount > 0 || len(req.Items) == 0 {
		name := "Order"
		if req.OrderNumber != "" {
			name = "Order " + req.OrderNumber
		}
		return []*stripe.CheckoutSessionLineItemParams{line(name, 1, req.Total)}
	}

	items := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items)+1)
	for _, item := range req.Items {
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		li := line(item.Name, qty, item.UnitPrice)
		if item.SKU != "" {
			li.PriceData.ProductData.Metadata = map[string]string{"sku": item.SKU}
		}
		items = append(items, li)
	}
	if req.Shipping > 0 {
		items = append(items, line("Shipping", 1, req.Shipping))
	}
	return items
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
