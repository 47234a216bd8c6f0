package config

import (
	"testing"
	"time"
)

func TestLoadQuotaCaps(t *testing.T) {
	t.Setenv("QUOTA_TERMINAL_PER_MINUTE", "0")
	t.Setenv("QUOTA_GLOBAL_PER_HOUR", "1000")
	t.Setenv("GATEWAY_TIMEOUT", "3s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg := Load()

	if cfg.Quota.Terminal.PerMinute == nil || *cfg.Quota.Terminal.PerMinute != 0 {
		t.Fatalf("terminal per-minute = %v, want explicit 0", cfg.Quota.Terminal.PerMinute)
	}
	if cfg.Quota.Terminal.PerHour != nil {
		t.Fatalf("terminal per-hour should be unbounded")
	}
	if cfg.Quota.Global.PerHour == nil || *cfg.Quota.Global.PerHour != 1000 {
		t.Fatalf("global per-hour = %v", cfg.Quota.Global.PerHour)
	}
	if cfg.GatewayTimeout != 3*time.Second {
		t.Fatalf("gateway timeout = %v", cfg.GatewayTimeout)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
}

func TestOptionalIntIgnoresGarbage(t *testing.T) {
	t.Setenv("QUOTA_GLOBAL_PER_DAY", "lots")
	if v := getEnvOptionalInt("QUOTA_GLOBAL_PER_DAY"); v != nil {
		t.Fatalf("got %d, want nil", *v)
	}
}
