package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	domain "github.com/hanko-field/storefront/internal/domain"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrPaymentNotFound is returned when the gateway does not know the payment id.
	ErrPaymentNotFound = errors.New("payments: payment not found")
	// ErrInvalidSignature is returned when a notification fails signature verification.
	ErrInvalidSignature = errors.New("payments: invalid notification signature")
	// ErrNotificationIgnored marks well-formed notifications that carry no payment change.
	ErrNotificationIgnored = errors.New("payments: notification ignored")
)

// LineItem describes a single priced line shown on the gateway's payment page.
type LineItem struct {
	Name      string
	SKU       string
	Quantity  int64
	UnitPrice int64
}

// IntentRequest captures the payload required to open a payment with the gateway.
// CorrelationID is echoed back on every notification and payment lookup.
type IntentRequest struct {
	CorrelationID  string
	OrderNumber    string
	Currency       string
	Total          int64
	Shipping       int64
	Discount       int64
	Email          string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	Items          []LineItem
}

// Intent is the gateway handle returned to the customer.
type Intent struct {
	Provider    string
	Reference   string
	PaymentID   string
	RedirectURL string
	ExpiresAt   time.Time
}

// Payment is the gateway's authoritative view of a payment.
type Payment struct {
	Provider      string
	ID            string
	CorrelationID string
	Status        domain.PaymentStatus
	RawStatus     string
	Amount        int64
	Currency      string
}

// Notification is a parsed, signature-checked webhook. Its claims are hints only: callers
// must re-fetch the payment before acting on it.
type Notification struct {
	Provider      string
	EventID       string
	Type          string
	PaymentID     string
	CorrelationID string
}

// Provider defines the contract for gateway adapters to implement.
type Provider interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error)
	FetchPayment(ctx context.Context, paymentID string) (Payment, error)
	ParseNotification(payload []byte, header http.Header) (Notification, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when callers do not name one.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = normaliseKey(provider)
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := normaliseKey(k)
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{providers: copyMap}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Default returns the name of the provider used for new payments.
func (m *Manager) Default() string {
	key, _, err := m.resolve("")
	if err != nil {
		return ""
	}
	return key
}

func (m *Manager) resolve(name string) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if key := normaliseKey(name); key != "" {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, key)
	}
	if m.defaultProvider != "" {
		if p, ok := m.providers[m.defaultProvider]; ok {
			return m.defaultProvider, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreatePaymentIntent delegates to the named provider, or the default one when name is empty.
func (m *Manager) CreatePaymentIntent(ctx context.Context, name string, req IntentRequest) (Intent, error) {
	key, provider, err := m.resolve(name)
	if err != nil {
		return Intent{}, err
	}
	intent, err := provider.CreatePaymentIntent(ctx, req)
	if err != nil {
		return Intent{}, err
	}
	intent.Provider = key
	return intent, nil
}

// FetchPayment delegates to the named provider.
func (m *Manager) FetchPayment(ctx context.Context, name, paymentID string) (Payment, error) {
	key, provider, err := m.resolve(name)
	if err != nil {
		return Payment{}, err
	}
	payment, err := provider.FetchPayment(ctx, paymentID)
	if err != nil {
		return Payment{}, err
	}
	payment.Provider = key
	return payment, nil
}

// ParseNotification delegates to the named provider.
func (m *Manager) ParseNotification(name string, payload []byte, header http.Header) (Notification, error) {
	key, provider, err := m.resolve(name)
	if err != nil {
		return Notification{}, err
	}
	note, err := provider.ParseNotification(payload, header)
	if err != nil {
		return Notification{}, err
	}
	note.Provider = key
	return note, nil
}

func normaliseKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
