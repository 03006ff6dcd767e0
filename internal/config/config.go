package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"ridenet/internal/domain"
)

// Country models a country's settlement parameters. The engine treats these
// as immutable within a transaction; updates go through the country authority.
type Country struct {
	Alpha3 string `yaml:"alpha3"`

	Fees struct {
		PlatformBasisPoints uint16 `yaml:"platform_basis_points"`
		BaseRate            uint64 `yaml:"base_rate"`
		MinKmRate           uint64 `yaml:"min_km_rate"`
		MinMinuteRate       uint64 `yaml:"min_minute_rate"`
	} `yaml:"fees"`

	Waiting struct {
		Amount       uint64 `yaml:"amount"`
		ThresholdSec uint64 `yaml:"threshold_sec"`
	} `yaml:"waiting"`

	Cancellation struct {
		Amount             uint64 `yaml:"amount"`
		DriverThresholdSec uint64 `yaml:"driver_threshold_sec"`
		RiderThresholdSec  uint64 `yaml:"rider_threshold_sec"`
	} `yaml:"cancellation"`

	Settlement struct {
		FinalizeDurationSec uint64 `yaml:"finalize_duration_sec"`
		DisputeWaitoutSec   uint64 `yaml:"dispute_waitout_sec"`
	} `yaml:"settlement"`

	Deposits struct {
		MinDriverInfra   uint64 `yaml:"min_driver_infra"`
		MinCustomerInfra uint64 `yaml:"min_customer_infra"`
		BaseSlashAmount  uint64 `yaml:"base_slash_amount"`
	} `yaml:"deposits"`
}

// Validate ensures the config meets required structure.
func (c *Country) Validate() error {
	if len(c.Alpha3) != 3 {
		return fmt.Errorf("config.alpha3 must be a 3-letter country code, got %q", c.Alpha3)
	}
	if c.Fees.PlatformBasisPoints > domain.FullShareBasisPoints {
		return fmt.Errorf("config.fees.platform_basis_points exceeds %d", domain.FullShareBasisPoints)
	}
	if c.Settlement.FinalizeDurationSec == 0 && c.Settlement.DisputeWaitoutSec != 0 {
		return fmt.Errorf("config.settlement.dispute_waitout_sec requires a finalize window")
	}
	if c.Deposits.MinDriverInfra == 0 {
		return fmt.Errorf("config.deposits.min_driver_infra is required")
	}
	if c.Deposits.MinCustomerInfra == 0 {
		return fmt.Errorf("config.deposits.min_customer_infra is required")
	}
	return nil
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Country, error) {
	var cfg Country
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Country, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ToYAML serializes the config for storage and export.
func (c *Country) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Default returns the default Country config for an alpha3 code.
func Default(alpha3 string) *Country {
	var cfg Country
	_ = yaml.Unmarshal([]byte(fmt.Sprintf(defaultTemplate, alpha3)), &cfg)
	cfg.Alpha3 = alpha3
	return &cfg
}

// GenerateDefault returns default config YAML for editing before import.
func GenerateDefault(alpha3 string) string {
	return fmt.Sprintf(defaultTemplate, alpha3)
}

const defaultTemplate = `alpha3: %s

fees:
  platform_basis_points: 100
  base_rate: 300
  min_km_rate: 50
  min_minute_rate: 20

waiting:
  amount: 300
  threshold_sec: 300

cancellation:
  amount: 500
  driver_threshold_sec: 60
  rider_threshold_sec: 120

settlement:
  finalize_duration_sec: 3600
  dispute_waitout_sec: 86400

deposits:
  min_driver_infra: 100000
  min_customer_infra: 100000
  base_slash_amount: 10000
`
