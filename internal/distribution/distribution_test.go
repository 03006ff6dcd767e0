package distribution

import (
	"testing"

	"ridenet/internal/domain"
)

func infra(id string, bp uint16) domain.InfraAccount {
	return domain.InfraAccount{ID: id, FeeBasisPoints: bp}
}

func sum(dist []domain.Distribution) int {
	var total int
	for _, d := range dist {
		total += int(d.BasisPoints)
	}
	return total
}

func TestSnapshotAlwaysSumsToFullShare(t *testing.T) {
	cases := []struct {
		name       string
		driverBP   uint16
		customerBP uint16
		platformBP uint16
	}{
		{"typical split", 7000, 2000, 100},
		{"no platform share", 8000, 2000, 0},
		{"everything unclaimed", 0, 0, 0},
		{"exact full share", 7900, 2000, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dist := Snapshot(infra("d-1", tc.driverBP), infra("c-1", tc.customerBP), tc.platformBP)
			if got := sum(dist); got != domain.FullShareBasisPoints {
				t.Fatalf("shares sum to %d, want %d", got, domain.FullShareBasisPoints)
			}
			if dist[0].Provider != "d-1" || dist[1].Provider != "c-1" {
				t.Fatalf("unexpected providers: %+v", dist)
			}
		})
	}
}

func TestSnapshotRemainderGoesToDriver(t *testing.T) {
	dist := Snapshot(infra("d-1", 7000), infra("c-1", 2000), 100)
	if dist[0].BasisPoints != 7900 {
		t.Fatalf("driver share = %d, want 7900 with remainder", dist[0].BasisPoints)
	}
	if dist[1].BasisPoints != 2000 {
		t.Fatalf("customer share = %d, want 2000", dist[1].BasisPoints)
	}
	bp, err := Find(dist, "platform")
	if err != nil || bp != 100 {
		t.Fatalf("platform share = %d (%v), want 100", bp, err)
	}
}

func TestValidateRejectsOversubscription(t *testing.T) {
	dist := []domain.Distribution{
		{Provider: "d-1", BasisPoints: 7000},
		{Provider: "c-1", BasisPoints: 4000},
	}
	if err := Validate(dist); err == nil {
		t.Fatal("expected rejection above full share")
	}
	dist[1].BasisPoints = 3000
	if err := Validate(dist); err != nil {
		t.Fatalf("exact full share should pass: %v", err)
	}
}

func TestFindUnknownProvider(t *testing.T) {
	dist := Snapshot(infra("d-1", 7000), infra("c-1", 2000), 100)
	if _, err := Find(dist, "ghost"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestPayoutFloorsShares(t *testing.T) {
	cases := []struct {
		fee  uint64
		bp   uint16
		want uint64
	}{
		{10_000, 7900, 7_900},
		{10_001, 7900, 7_900}, // 7900.79 floors
		{10_001, 100, 100},    // 100.01 floors
		{1, 9999, 0},
		{0, 10_000, 0},
	}
	for _, tc := range cases {
		if got := Payout(tc.fee, tc.bp); got != tc.want {
			t.Fatalf("Payout(%d, %d) = %d, want %d", tc.fee, tc.bp, got, tc.want)
		}
	}
}

func TestPayoutsNeverExceedFee(t *testing.T) {
	dist := Snapshot(infra("d-1", 3333), infra("c-1", 3333), 3333)
	for _, fee := range []uint64{1, 3, 10_001, 99_999} {
		var paid uint64
		for _, d := range dist {
			paid += Payout(fee, d.BasisPoints)
		}
		if paid > fee {
			t.Fatalf("fee %d: paid %d exceeds escrow", fee, paid)
		}
	}
}
