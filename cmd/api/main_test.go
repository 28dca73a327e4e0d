package main

import (
	"reflect"
	"testing"
	"time"

	"github.com/hanko-field/storefront/internal/platform/config"
)

func TestBuildInfoFromEnvDefaults(t *testing.T) {
	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	info := buildInfoFromEnv(map[string]string{}, config.Config{}, started)
	if info.Version != "dev" || info.CommitSHA != "unknown" || info.Environment != "local" {
		t.Fatalf("unexpected defaults %+v", info)
	}

	cfg := config.Config{Security: config.SecurityConfig{Environment: "prod"}}
	info = buildInfoFromEnv(map[string]string{"API_BUILD_VERSION": " 1.4.0 ", "API_BUILD_COMMIT_SHA": "abc123"}, cfg, started)
	if info.Version != "1.4.0" || info.CommitSHA != "abc123" || info.Environment != "prod" || !info.StartedAt.Equal(started) {
		t.Fatalf("unexpected build info %+v", info)
	}
}

func TestRequiredSecretNames(t *testing.T) {
	base := []string{"Database.DSN", "PSP.StripeAPIKey", "PSP.StripeWebhookSecret"}
	if got := requiredSecretNames(nil); !reflect.DeepEqual(got, base) {
		t.Fatalf("expected %v, got %v", base, got)
	}

	got := requiredSecretNames(map[string]string{
		"API_IDEMPOTENCY_BACKEND": "Redis",
		"API_REDIS_PASSWORD":      "secret://redis-password",
	})
	if len(got) != 4 || got[3] != "Redis.Password" {
		t.Fatalf("expected redis password to be required, got %v", got)
	}

	got = requiredSecretNames(map[string]string{"API_IDEMPOTENCY_BACKEND": "memory", "API_REDIS_PASSWORD": "x"})
	if len(got) != 3 {
		t.Fatalf("redis password must not be required for the memory backend, got %v", got)
	}
}

func TestSecretProjectMapFromEnv(t *testing.T) {
	got := secretProjectMapFromEnv(map[string]string{
		"API_SECRET_PROJECT_IDS": " Prod=shop-prod, stg = shop-stg ,broken,=empty,dev=",
	})
	want := map[string]string{"prod": "shop-prod", "stg": "shop-stg"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if got := secretProjectMapFromEnv(nil); len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}

func TestFirebaseClientOptions(t *testing.T) {
	if opts := firebaseClientOptions(config.Config{}); opts != nil {
		t.Fatalf("expected no options without credentials file, got %d", len(opts))
	}
	cfg := config.Config{Firebase: config.FirebaseConfig{CredentialsFile: "/etc/creds.json"}}
	if opts := firebaseClientOptions(cfg); len(opts) != 1 {
		t.Fatalf("expected credentials option, got %d", len(opts))
	}
}
