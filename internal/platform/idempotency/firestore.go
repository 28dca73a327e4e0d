package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection  = "idempotency_keys"
	defaultMaxAttempts = 5
	defaultPurgeLimit  = 100
)

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name used to store idempotency keys.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// WithMaxAttempts configures the transaction retry attempts.
func WithMaxAttempts(attempts int) FirestoreOption {
	return func(store *FirestoreStore) {
		if attempts > 0 {
			store.maxAttempts = attempts
		}
	}
}

// FirestoreStore implements Store backed by Google Cloud Firestore.
type FirestoreStore struct {
	client      *firestore.Client
	collection  string
	maxAttempts int
}

// NewFirestoreStore constructs a Firestore-backed idempotency store.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{
		client:      client,
		collection:  defaultCollection,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

func (s *FirestoreStore) doc(key Key) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(key.ID())
}

func (s *FirestoreStore) Reserve(ctx context.Context, key Key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ttl = normaliseTTL(ttl)
	ref := s.doc(key)

	var result Reservation
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, found, err := getRecord(tx, ref)
		if err != nil {
			return err
		}
		if found && !existing.expired(now) {
			result, err = classify(existing, fingerprint)
			return err
		}

		record := pendingRecord(key, fingerprint, now, ttl)
		if err := tx.Set(ref, toFirestoreRecord(record)); err != nil {
			return err
		}
		result = Reservation{State: ReservationStateNew, Record: record}
		return nil
	}, firestore.MaxAttempts(s.maxAttempts))

	return result, err
}

func (s *FirestoreStore) Complete(ctx context.Context, key Key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ttl = normaliseTTL(ttl)
	ref := s.doc(key)

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		record, found, err := getRecord(tx, ref)
		if err != nil {
			return err
		}
		if !found {
			record = pendingRecord(key, fingerprint, now, ttl)
		} else if record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		return tx.Set(ref, toFirestoreRecord(completeRecord(record, resp, now, ttl)))
	}, firestore.MaxAttempts(s.maxAttempts))
}

func (s *FirestoreStore) Release(ctx context.Context, key Key) error {
	_, err := s.doc(key).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultPurgeLimit
	}

	docs, err := s.client.Collection(s.collection).
		Where("expires_at", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).
		GetAll()
	if err != nil || len(docs) == 0 {
		return 0, err
	}

	bw := s.client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := bw.Delete(doc.Ref); err != nil {
			bw.End()
			return 0, err
		}
	}
	bw.End()
	return len(docs), nil
}

func getRecord(tx *firestore.Transaction, ref *firestore.DocumentRef) (Record, bool, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	var doc firestoreRecord
	if err := snap.DataTo(&doc); err != nil {
		return Record{}, false, err
	}
	return doc.toRecord(), true, nil
}

type firestoreRecord struct {
	Scope       string              `firestore:"scope"`
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	Status      string              `firestore:"status"`
	StatusCode  int                 `firestore:"status_code"`
	Headers     map[string][]string `firestore:"headers"`
	Body        []byte              `firestore:"body"`
	CreatedAt   time.Time           `firestore:"created_at"`
	ExpiresAt   time.Time           `firestore:"expires_at"`
}

func toFirestoreRecord(r Record) firestoreRecord {
	return firestoreRecord{
		Scope:       r.Scope,
		Key:         r.Key,
		Fingerprint: r.Fingerprint,
		Status:      string(r.Status),
		StatusCode:  r.StatusCode,
		Headers:     r.Headers,
		Body:        r.Body,
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}

func (r firestoreRecord) toRecord() Record {
	return Record{
		Scope:       r.Scope,
		Key:         r.Key,
		Fingerprint: r.Fingerprint,
		Status:      Status(r.Status),
		StatusCode:  r.StatusCode,
		Headers:     r.Headers,
		Body:        r.Body,
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}
