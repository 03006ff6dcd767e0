package app

import (
	"context"
	"errors"
	"fmt"

	"ridenet/internal/config"
	"ridenet/internal/engine"
	"ridenet/internal/repo"
)

// ResolveCountry picks the country an operation runs against. It prefers the
// explicit override, then the single country in the database. The country
// must already be initialized; nothing is seeded on the fly because every
// country needs a designated authority.
func ResolveCountry(ctx context.Context, countryOverride string, r repo.Repo) (string, *config.Country, error) {
	alpha3 := countryOverride
	if alpha3 == "" {
		countries, err := r.ListCountries(ctx)
		if err != nil {
			return "", nil, err
		}
		switch len(countries) {
		case 0:
			return "", nil, fmt.Errorf("no country initialized; run `rn country init` first")
		case 1:
			alpha3 = countries[0].Alpha3
		default:
			return "", nil, fmt.Errorf("multiple countries registered; use --country")
		}
	}
	cfg, err := r.GetCountryConfig(ctx, alpha3)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", nil, fmt.Errorf("country %s has no stored parameters; run `rn country init`", alpha3)
		}
		return "", nil, err
	}
	return alpha3, cfg, nil
}

// SeedCountry initializes a country with default parameters when none exists
// yet. Used by tests and first-run tooling.
func SeedCountry(ctx context.Context, e engine.Engine, alpha3, authorityID string) error {
	if _, err := e.Repo.GetCountry(ctx, alpha3); err == nil {
		return nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	_, err := e.InitOrUpdateCountry(ctx, alpha3, authorityID, config.Default(alpha3), authorityID)
	return err
}
