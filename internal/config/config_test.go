package config

import (
	"testing"
	"time"
)

func TestLoadDevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.Address())
	}
	if cfg.Fincra.Timeout != 30*time.Second || cfg.Fincra.Retries != 3 || cfg.Fincra.Backoff != 500*time.Millisecond {
		t.Fatalf("unexpected provider defaults: %+v", cfg.Fincra)
	}
	if len(cfg.Fincra.Currencies) != 1 || cfg.Fincra.Currencies[0] != "NGN" {
		t.Fatalf("expected fincra to serve NGN, got %v", cfg.Fincra.Currencies)
	}
	if cfg.Fincra.Enabled() {
		t.Fatal("fincra should be disabled without an api key")
	}
}

func TestLoadRequiresDatabaseOutsideDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	if _, err := Load(); err == nil {
		t.Fatal("expected missing DATABASE_URL error")
	}
}

func TestLoadDurationsAndLists(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "3")
	t.Setenv("PROVIDER_BACKOFF", "250ms")
	t.Setenv("PAYSTACK_CURRENCIES", "ghs, kes ,zar")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ShutdownPeriod != 3*time.Second {
		t.Fatalf("expected 3s shutdown, got %s", cfg.ShutdownPeriod)
	}
	if cfg.Paystack.Backoff != 250*time.Millisecond {
		t.Fatalf("expected 250ms backoff, got %s", cfg.Paystack.Backoff)
	}
	want := []string{"GHS", "KES", "ZAR"}
	if len(cfg.Paystack.Currencies) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.Paystack.Currencies)
	}
	for i := range want {
		if cfg.Paystack.Currencies[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, cfg.Paystack.Currencies)
		}
	}
	if len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("expected two brokers, got %v", cfg.KafkaBrokers)
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("IDEMPOTENCY_TTL", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected invalid IDEMPOTENCY_TTL error")
	}
}
