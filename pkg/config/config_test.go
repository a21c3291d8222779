package config

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	errs, warnings := Default().Validate()
	if len(errs) != 0 {
		t.Fatalf("default config should validate cleanly, got errors: %v", errs)
	}
	if len(warnings) != 0 {
		t.Fatalf("default config should carry no warnings, got: %v", warnings)
	}
}

func TestValidateRejectsZeroedFields(t *testing.T) {
	c := Default()
	c.Cache.MaxEntries = 0
	c.Network.Concurrency = 0
	c.Performance.ChunkSize = 0

	errs, _ := c.Validate()
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(errs), errs)
	}
}

func TestValidateWarnsOnAggressiveRotation(t *testing.T) {
	c := Default()
	c.Encryption.KeyRotationEvery = 1 * 60 * 60 * 1e9 // 1h in ns, below 24h floor

	errs, warnings := c.Validate()
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got: %v", errs)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d: %v", len(warnings), warnings)
	}
}

func TestValidateRejectsUnknownMonitoringLevel(t *testing.T) {
	c := Default()
	c.Monitoring.Level = "verbose"

	errs, _ := c.Validate()
	if len(errs) != 1 {
		t.Fatalf("expected 1 error for unknown monitoring level, got %d: %v", len(errs), errs)
	}
}
