// Package distribution computes payout shares. Shares are snapshotted when a
// ride is requested so later basis-point changes never move money on rides
// already in flight.
package distribution

import (
	"ridenet/internal/domain"
	"ridenet/internal/engine/fault"
)

// Snapshot captures the current fee shares of both operators plus the
// platform remainder. The three entries always sum to exactly 100%.
func Snapshot(driverInfra, customerInfra domain.InfraAccount, platformBP uint16) []domain.Distribution {
	driverBP := driverInfra.FeeBasisPoints
	customerBP := customerInfra.FeeBasisPoints
	rest := domain.FullShareBasisPoints - int(driverBP) - int(customerBP) - int(platformBP)
	dist := []domain.Distribution{
		{Provider: driverInfra.ID, BasisPoints: driverBP},
		{Provider: customerInfra.ID, BasisPoints: customerBP},
	}
	if platformBP > 0 {
		dist = append(dist, domain.Distribution{Provider: "platform", BasisPoints: platformBP})
	}
	if rest > 0 {
		// The uncommitted remainder rides with the driver operator so the
		// full fee is always spoken for.
		dist[0].BasisPoints += uint16(rest)
	}
	return dist
}

// Validate rejects snapshots whose shares exceed 100%.
func Validate(dist []domain.Distribution) error {
	var total int
	for _, d := range dist {
		total += int(d.BasisPoints)
	}
	if total > domain.FullShareBasisPoints {
		return fault.With(fault.RateMismatch,
			map[string]any{"total_basis_points": total},
			"distribution shares sum to %d basis points, above %d", total, domain.FullShareBasisPoints)
	}
	return nil
}

// Find returns the share recorded for a provider. A missing entry means the
// snapshot was corrupted after request time.
func Find(dist []domain.Distribution, provider string) (uint16, error) {
	for _, d := range dist {
		if d.Provider == provider {
			return d.BasisPoints, nil
		}
	}
	return 0, fault.With(fault.IntegrityFault,
		map[string]any{"provider": provider},
		"no distribution share recorded for %s", provider)
}

// Payout is the integer share of totalFee owed for bp basis points, rounded
// down. Dust left by flooring stays in escrow and is swept to the treasury at
// settlement.
func Payout(totalFee uint64, bp uint16) uint64 {
	return totalFee * uint64(bp) / domain.FullShareBasisPoints
}
