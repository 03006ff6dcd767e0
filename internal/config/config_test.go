package config

import (
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("FRA")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Alpha3 != "FRA" {
		t.Fatalf("alpha3 = %q, want FRA", cfg.Alpha3)
	}
	if cfg.Fees.PlatformBasisPoints != 100 || cfg.Deposits.MinDriverInfra != 100_000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	raw := GenerateDefault("DEU")
	cfg, err := FromYAML([]byte(raw))
	if err != nil {
		t.Fatalf("parse generated yaml: %v", err)
	}
	out, err := cfg.ToYAML()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	back, err := FromYAML(out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if *back != *cfg {
		t.Fatalf("round trip changed config: %+v != %+v", back, cfg)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Country)
		want   string
	}{
		{"bad alpha3", func(c *Country) { c.Alpha3 = "FR" }, "alpha3"},
		{"platform share too large", func(c *Country) { c.Fees.PlatformBasisPoints = 10_001 }, "platform_basis_points"},
		{"waitout without window", func(c *Country) {
			c.Settlement.FinalizeDurationSec = 0
			c.Settlement.DisputeWaitoutSec = 60
		}, "finalize window"},
		{"missing driver deposit", func(c *Country) { c.Deposits.MinDriverInfra = 0 }, "min_driver_infra"},
		{"missing customer deposit", func(c *Country) { c.Deposits.MinCustomerInfra = 0 }, "min_customer_infra"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default("FRA")
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestFromYAMLRejectsGarbage(t *testing.T) {
	if _, err := FromYAML([]byte("alpha3: [not, a, string")); err == nil {
		t.Fatal("expected parse error")
	}
}
