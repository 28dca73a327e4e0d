package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/storefront/internal/platform/config"
)

const (
	defaultDialTimeout = 10 * time.Second
	envEmulatorHost    = "FIRESTORE_EMULATOR_HOST"
	envGoogleProjectID = "GOOGLE_CLOUD_PROJECT"
)

// ErrProjectIDRequired is returned when neither config nor environment names a project.
var ErrProjectIDRequired = errors.New("firestore: project id is required")

// NewClient creates a Firestore client for cfg, routing to the emulator when one is configured.
func NewClient(ctx context.Context, cfg config.FirestoreConfig, opts ...option.ClientOption) (*firestore.Client, error) {
	projectID := projectID(cfg)
	if projectID == "" {
		return nil, ErrProjectIDRequired
	}

	clientOpts := append([]option.ClientOption(nil), opts...)
	if host := emulatorHost(cfg); host != "" {
		if os.Getenv(envEmulatorHost) == "" {
			_ = os.Setenv(envEmulatorHost, host)
		}
		clientOpts = append(clientOpts,
			option.WithoutAuthentication(),
			option.WithEndpoint(host),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	client, err := firestore.NewClient(dialCtx, projectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}
	return client, nil
}

// Ping reads at most one document from collection to prove the backend is reachable.
func Ping(ctx context.Context, client *firestore.Client, collection string) error {
	if client == nil {
		return errors.New("firestore: client not initialised")
	}
	iter := client.Collection(collection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}

func projectID(cfg config.FirestoreConfig) string {
	if id := strings.TrimSpace(cfg.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(os.Getenv(envGoogleProjectID))
}

func emulatorHost(cfg config.FirestoreConfig) string {
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		return host
	}
	return strings.TrimSpace(os.Getenv(envEmulatorHost))
}
