package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}

	if cfg.Environment != "development" {
		t.Errorf("expected development environment, got %s", cfg.Environment)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Detection.SequenceLength != 24 {
		t.Errorf("expected default sequence length 24, got %d", cfg.Detection.SequenceLength)
	}
	if cfg.Detection.PersonConfidence != 0.45 {
		t.Errorf("expected default person confidence 0.45, got %v", cfg.Detection.PersonConfidence)
	}
	if cfg.Detection.AnomalyThreshold != 0 {
		t.Errorf("anomaly threshold defaults to 0, got %v", cfg.Detection.AnomalyThreshold)
	}
	if cfg.Detection.HighCut != 3.0 || cfg.Detection.MediumCut != 2.0 {
		t.Errorf("unexpected bucket cuts: %v / %v", cfg.Detection.HighCut, cfg.Detection.MediumCut)
	}
	if cfg.Models.Device != "cpu" {
		t.Errorf("expected cpu device by default, got %s", cfg.Models.Device)
	}
	if len(cfg.WebRTC.STUNServers) == 0 {
		t.Error("expected default STUN servers")
	}
	if cfg.WebRTC.OfferTimeout != 10 {
		t.Errorf("expected default offer timeout 10s, got %d", cfg.WebRTC.OfferTimeout)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
environment: production
server:
  port: 9090
  allowed_origins:
    - https://app.example.com
database:
  host: db.internal
  name: visionguard
  user: vg
  password: pw
detection:
  anomaly_threshold: -0.5
  sequence_length: 12
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Environment != "production" {
		t.Errorf("expected production, got %s", cfg.Environment)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "https://app.example.com" {
		t.Errorf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Detection.AnomalyThreshold != -0.5 {
		t.Errorf("expected threshold -0.5, got %v", cfg.Detection.AnomalyThreshold)
	}
	if cfg.Detection.SequenceLength != 12 {
		t.Errorf("expected sequence length 12, got %d", cfg.Detection.SequenceLength)
	}
	// File values win only where set; defaults still fill the rest.
	if cfg.Database.Port != 5432 {
		t.Errorf("expected default db port, got %d", cfg.Database.Port)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("environment: development\nserver:\n  port: 8080\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ENVIRONMENT", "Production")
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("DB_HOST", "pg.internal")
	t.Setenv("NATS_URL", "nats://broker:4222")
	t.Setenv("ANOMALY_THRESHOLD", "-1.25")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example.com, https://b.example.com ,")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Environment != "production" {
		t.Errorf("environment override should lowercase, got %s", cfg.Environment)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected env port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Database.Host != "pg.internal" {
		t.Errorf("expected env db host, got %s", cfg.Database.Host)
	}
	if cfg.NATS.URL != "nats://broker:4222" {
		t.Errorf("expected env nats url, got %s", cfg.NATS.URL)
	}
	if cfg.Detection.AnomalyThreshold != -1.25 {
		t.Errorf("expected env threshold -1.25, got %v", cfg.Detection.AnomalyThreshold)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("expected env jwt secret, got %q", cfg.Auth.JWTSecret)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if len(cfg.Server.AllowedOrigins) != 2 ||
		cfg.Server.AllowedOrigins[0] != want[0] ||
		cfg.Server.AllowedOrigins[1] != want[1] {
		t.Errorf("origins not split and trimmed: %v", cfg.Server.AllowedOrigins)
	}
}

func TestBadEnvNumbersIgnored(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("SEQUENCE_LENGTH", "twelve")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("bad port value should fall back to default, got %d", cfg.Server.Port)
	}
	if cfg.Detection.SequenceLength != 24 {
		t.Errorf("bad sequence length should fall back to default, got %d", cfg.Detection.SequenceLength)
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "localhost", Port: 5432, Name: "vg", User: "app", Password: "pw",
	}
	want := "postgres://app:pw@localhost:5432/vg?sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
