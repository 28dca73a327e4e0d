package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Status represents the lifecycle state of an idempotency record.
type Status string

const (
	// DefaultTTL is the default duration that idempotency records are retained.
	DefaultTTL = 24 * time.Hour
	// StatusPending indicates that a request holds the key but has not stored a response yet.
	StatusPending Status = "pending"
	// StatusCompleted indicates that the response for the key is stored and can be replayed.
	StatusCompleted Status = "completed"
)

// ReservationState describes the outcome of attempting to reserve an idempotency key.
type ReservationState int

const (
	// ReservationStateNew means the caller owns the key and should process the request.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means a previous response was found and should be replayed.
	ReservationStateCompleted
	// ReservationStatePending means another request is currently processing this key.
	ReservationStatePending
)

var (
	// ErrFingerprintMismatch is returned when a key is reused for a different request.
	ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")
)

// Key identifies a client supplied idempotency key within the scope of one owner.
type Key struct {
	Scope string
	Value string
}

// ID returns the storage identifier for the key.
func (k Key) ID() string {
	return sha256Hex([]byte(strings.TrimSpace(k.Scope) + "\x00" + strings.TrimSpace(k.Value)))
}

// Reservation encapsulates the result of reserving a key, including the stored record if any.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record captures the persisted state for an idempotency key.
type Record struct {
	Scope       string              `json:"scope"`
	Key         string              `json:"key"`
	Fingerprint string              `json:"fingerprint"`
	Status      Status              `json:"status"`
	StatusCode  int                 `json:"status_code,omitempty"`
	Headers     map[string][]string `json:"headers,omitempty"`
	Body        []byte              `json:"body,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	ExpiresAt   time.Time           `json:"expires_at"`
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Response represents the HTTP response that should be stored for future replays.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists idempotency reservations and responses.
type Store interface {
	// Reserve claims key for the fingerprint or reports the state of an earlier claim.
	Reserve(ctx context.Context, key Key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	// Complete stores the final response so later requests replay it.
	Complete(ctx context.Context, key Key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	// Release forgets a pending reservation so the client may retry.
	Release(ctx context.Context, key Key) error
	// Purge deletes up to limit expired records and reports how many were removed.
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

func pendingRecord(key Key, fingerprint string, now time.Time, ttl time.Duration) Record {
	return Record{
		Scope:       key.Scope,
		Key:         key.Value,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// classify turns an existing, unexpired record into the reservation outcome.
func classify(record Record, fingerprint string) (Reservation, error) {
	if record.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if record.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: record}, nil
	}
	return Reservation{State: ReservationStatePending, Record: record}, nil
}

func completeRecord(record Record, resp Response, now time.Time, ttl time.Duration) Record {
	record.Status = StatusCompleted
	record.StatusCode = resp.Status
	record.Headers = sanitizeHeaders(resp.Headers)
	record.Body = nil
	if len(resp.Body) > 0 {
		record.Body = append([]byte(nil), resp.Body...)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.ExpiresAt = now.Add(ttl)
	return record
}

func normaliseTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sanitizeHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}

	filtered := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if shouldOmitHeader(canonical) {
			continue
		}
		filtered[canonical] = append([]string(nil), values...)
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

func shouldOmitHeader(name string) bool {
	switch strings.ToLower(name) {
	case "content-length", "date", "connection", "keep-alive", "proxy-authenticate", "proxy-authorization", "te", "trailers", "transfer-encoding", "upgrade", "set-cookie":
		return true
	default:
		return false
	}
}
