package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeYAML(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "kelp.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsForOmittedFields(t *testing.T) {
	path := writeYAML(t, "endpoint: https://nosql.example.com\nserviceType: CLOUD\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DefaultTimeout != Defaults("").DefaultTimeout {
		t.Fatalf("expected default timeout to be filled in, got %v", cfg.DefaultTimeout)
	}
	if cfg.RateLimiterPercent != 100 {
		t.Fatalf("expected default rateLimiterPercent 100, got %v", cfg.RateLimiterPercent)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	path := writeYAML(t, `
endpoint: https://nosql.example.com
serviceType: CLOUDSIM
defaultTimeout: 7s
rateLimiterPercent: 50
disableProtocolFallback: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServiceType != CloudSim {
		t.Fatalf("expected CloudSim, got %v", cfg.ServiceType)
	}
	if cfg.DefaultTimeout != 7*time.Second {
		t.Fatalf("expected 7s, got %v", cfg.DefaultTimeout)
	}
	if cfg.RateLimiterPercent != 50 {
		t.Fatalf("expected 50, got %v", cfg.RateLimiterPercent)
	}
	if !cfg.DisableProtocolFallback {
		t.Fatal("expected disableProtocolFallback true")
	}
}

func TestLoadRejectsUnknownServiceType(t *testing.T) {
	path := writeYAML(t, "endpoint: https://nosql.example.com\nserviceType: WEIRD\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown serviceType")
	}
}

func TestValidateRejectsMutuallyExclusiveTrustOptions(t *testing.T) {
	cfg := Defaults("https://nosql.example.com")
	cfg.Connection.TrustedRootCertsPath = "/etc/ssl/certs.pem"
	cfg.Connection.PEMFilePath = "/etc/ssl/other.pem"
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected mutually-exclusive trust store error")
	}
}

func TestValidateRejectsZeroRateLimiterPercent(t *testing.T) {
	cfg := Defaults("https://nosql.example.com")
	cfg.RateLimiterPercent = 0
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected rateLimiterPercent error")
	}
}

func TestValidateRejectsRateLimitingOnKVStore(t *testing.T) {
	cfg := Defaults("https://nosql.example.com")
	cfg.ServiceType = KVStore
	cfg.RateLimitingEnabled = true
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected rate-limiting-on-KVStore error")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := Defaults("https://nosql.example.com")
	if err := Validate(&cfg); err != nil {
		t.Fatalf("expected defaults to validate cleanly: %v", err)
	}
}
