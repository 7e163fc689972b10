package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected default listen address: %q", cfg.ListenAddr)
	}
	if cfg.WarmSpareTarget != 2 || cfg.MaxInstances != 20 {
		t.Fatalf("unexpected capacity defaults: warmSpareTarget=%d maxInstances=%d", cfg.WarmSpareTarget, cfg.MaxInstances)
	}
	if cfg.IdleTimeoutMs != 300_000 {
		t.Fatalf("unexpected idle timeout default: %d", cfg.IdleTimeoutMs)
	}
}

func TestLoadOverridesFromFlags(t *testing.T) {
	cfg, err := Load([]string{"-max-instances", "50", "-warm-spare-target", "5", "-asg-name", "fleet-a"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxInstances != 50 || cfg.WarmSpareTarget != 5 || cfg.ASGName != "fleet-a" {
		t.Fatalf("unexpected overridden config: %+v", cfg)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg, err := Load([]string{"-cleanup-interval-ms", "5000", "-allocation-timeout-ms", "2000"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CleanupInterval().Seconds() != 5 {
		t.Fatalf("unexpected cleanup interval: %v", cfg.CleanupInterval())
	}
	if cfg.AllocationTimeout().Seconds() != 2 {
		t.Fatalf("unexpected allocation timeout: %v", cfg.AllocationTimeout())
	}
}
