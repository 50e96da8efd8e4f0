package config

import "testing"

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	t.Setenv("CONFIG_ENV", "nosuchenv")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "release" || cfg.Port != 5000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	// The cookie store must never be keyed with an empty secret.
	if cfg.Secret != DevSecret {
		t.Fatalf("expected dev secret default, got %q", cfg.Secret)
	}
}
