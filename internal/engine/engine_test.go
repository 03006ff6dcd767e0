package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"ridenet/internal/db"
	"ridenet/internal/domain"
	"ridenet/internal/engine"
	"ridenet/internal/engine/fault"
	"ridenet/internal/migrate"
	"ridenet/internal/repo"
)

const (
	authority     = "gov"
	driverOwner   = "acme"
	customerOwner = "ridely"
	driverInfra   = "FRA-driver-1"
	customerInfra = "FRA-customer-1"
	driverUUID    = "drv-1"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	env := &testEnv{
		Ctx: context.Background(),
		now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	eng := engine.New(conn)
	eng.Now = func() time.Time { return env.now }
	eng.Events.Now = eng.Now
	env.Engine = eng
	return env
}

func (env *testEnv) advance(d time.Duration) { env.now = env.now.Add(d) }

// newMarket sets up a country with one approved operator on each side and an
// idle driver: the starting point of every ride.
func newMarket(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t)
	e, ctx := env.Engine, env.Ctx
	if _, err := e.InitOrUpdateCountry(ctx, "FRA", authority, nil, authority); err != nil {
		t.Fatalf("init country: %v", err)
	}
	if _, err := e.Deposit(ctx, driverOwner, 500_000); err != nil {
		t.Fatalf("fund driver owner: %v", err)
	}
	if _, err := e.Deposit(ctx, customerOwner, 500_000); err != nil {
		t.Fatalf("fund customer owner: %v", err)
	}
	if _, err := e.RegisterInfra(ctx, engine.InfraRegisterOptions{
		Kind: domain.InfraDriver, CountryCode: "FRA", OwnerID: driverOwner,
		FeeBasisPoints: 7000, CompanyName: "Acme Fleet", ActorID: driverOwner,
	}); err != nil {
		t.Fatalf("register driver infra: %v", err)
	}
	if _, err := e.RegisterInfra(ctx, engine.InfraRegisterOptions{
		Kind: domain.InfraCustomer, CountryCode: "FRA", OwnerID: customerOwner,
		FeeBasisPoints: 2000, CompanyName: "Ridely App", ActorID: customerOwner,
	}); err != nil {
		t.Fatalf("register customer infra: %v", err)
	}
	if err := e.ApproveInfra(ctx, driverInfra, authority); err != nil {
		t.Fatalf("approve driver infra: %v", err)
	}
	if err := e.ApproveInfra(ctx, customerInfra, authority); err != nil {
		t.Fatalf("approve customer infra: %v", err)
	}
	if _, err := e.StartWork(ctx, engine.StartWorkOptions{
		DriverUUID: driverUUID, InfraID: driverInfra,
		Location: domain.Coordinates{Lat: 48.85, Long: 2.35},
		ActorID:  driverOwner,
	}); err != nil {
		t.Fatalf("start work: %v", err)
	}
	return env
}

func requestRide(t *testing.T, env *testEnv, fee uint64) domain.Job {
	t.Helper()
	j, err := env.Engine.RequestRide(env.Ctx, engine.RideRequestOptions{
		CustomerInfraID: customerInfra,
		DriverInfraID:   driverInfra,
		TotalFee:        fee,
		Pickup:          domain.Coordinates{Lat: 48.85, Long: 2.35},
		Drop:            domain.Coordinates{Lat: 48.86, Long: 2.29},
		ActorID:         customerOwner,
	})
	if err != nil {
		t.Fatalf("request ride: %v", err)
	}
	return j
}

func balance(t *testing.T, env *testEnv, account string) uint64 {
	t.Helper()
	b, err := env.Engine.Balance(env.Ctx, account)
	if err != nil {
		t.Fatalf("balance %s: %v", account, err)
	}
	return b
}

func totalFunds(t *testing.T, env *testEnv) uint64 {
	t.Helper()
	var total uint64
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT COALESCE(SUM(balance),0) FROM ledger_accounts`).Scan(&total); err != nil {
		t.Fatalf("sum balances: %v", err)
	}
	return total
}

func wantFault(t *testing.T, err error, kind fault.Kind) {
	t.Helper()
	var fe fault.Error
	if !errors.As(err, &fe) {
		t.Fatalf("expected %s fault, got %v", kind, err)
	}
	if fe.Kind != kind {
		t.Fatalf("expected %s fault, got %s: %v", kind, fe.Kind, err)
	}
}

func TestRideLifecycleSettlement(t *testing.T) {
	env := newMarket(t)
	e, ctx := env.Engine, env.Ctx
	before := totalFunds(t, env)

	j := requestRide(t, env, 10_000)
	if j.Seq != 1 || j.Status != domain.StatusInit {
		t.Fatalf("unexpected job: %+v", j)
	}
	escrow := domain.EscrowAccount(driverInfra, j.Seq)
	if got := balance(t, env, escrow); got != 10_000 {
		t.Fatalf("escrow = %d, want 10000", got)
	}
	// 500k funded, 100k locked as security deposit, 10k escrowed
	if got := balance(t, env, domain.OwnerAccount(customerOwner)); got != 390_000 {
		t.Fatalf("customer owner = %d, want 390000", got)
	}

	j, err := e.AcceptJob(ctx, driverInfra, j.Seq, driverUUID, 10_000, driverOwner)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if j.Status != domain.StatusJobAccepted || j.StartTime == nil {
		t.Fatalf("unexpected job after accept: %+v", j)
	}
	s, err := e.Repo.GetSession(ctx, driverUUID)
	if err != nil || s.IsActive {
		t.Fatalf("driver should be busy while on a ride: %+v %v", s, err)
	}

	env.advance(2 * time.Minute)
	if _, err := e.ArriveAtPickup(ctx, driverInfra, j.Seq, driverOwner); err != nil {
		t.Fatalf("arrive: %v", err)
	}
	env.advance(1 * time.Minute)
	j, err = e.PickupRider(ctx, driverInfra, j.Seq, driverOwner)
	if err != nil {
		t.Fatalf("pickup: %v", err)
	}
	if j.TotalFee != 10_000 {
		t.Fatalf("no waiting fee expected, total fee = %d", j.TotalFee)
	}
	env.advance(20 * time.Minute)
	if _, err := e.CompleteJob(ctx, driverInfra, j.Seq, driverOwner); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// funds stay locked until the finalize window passes
	_, err = e.SettleJob(ctx, driverInfra, j.Seq, driverOwner)
	wantFault(t, err, fault.StaleOrInvalidState)

	env.advance(time.Hour + time.Second)
	payouts, err := e.SettleJob(ctx, driverInfra, j.Seq, driverOwner)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	// driver 7000bp absorbs the 900bp nobody claimed, customer 2000bp,
	// platform 100bp
	want := map[string]uint64{
		domain.OwnerAccount(driverOwner):   7_900,
		domain.OwnerAccount(customerOwner): 2_000,
		domain.TreasuryAccount("FRA"):      100,
	}
	for acct, amount := range want {
		if payouts[acct] != amount {
			t.Fatalf("payout[%s] = %d, want %d", acct, payouts[acct], amount)
		}
	}
	if got := balance(t, env, escrow); got != 0 {
		t.Fatalf("escrow not drained: %d", got)
	}
	if got := balance(t, env, domain.OwnerAccount(driverOwner)); got != 407_900 {
		t.Fatalf("driver owner = %d, want 407900", got)
	}
	if _, err := e.Repo.GetJob(ctx, driverInfra, j.Seq); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("settled job should be gone, got %v", err)
	}
	s, err = e.Repo.GetSession(ctx, driverUUID)
	if err != nil || !s.IsActive {
		t.Fatalf("driver should be released after settlement: %+v %v", s, err)
	}
	if after := totalFunds(t, env); after != before {
		t.Fatalf("funds not conserved: %d -> %d", before, after)
	}
}

func TestRepeatCompleteBeforeSettlement(t *testing.T) {
	env := newMarket(t)
	e, ctx := env.Engine, env.Ctx

	j := requestRide(t, env, 10_000)
	if _, err := e.AcceptJob(ctx, driverInfra, j.Seq, driverUUID, 10_000, driverOwner); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ArriveAtPickup(ctx, driverInfra, j.Seq, driverOwner); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PickupRider(ctx, driverInfra, j.Seq, driverOwner); err != nil {
		t.Fatal(err)
	}
	first, err := e.CompleteJob(ctx, driverInfra, j.Seq, driverOwner)
	if err != nil || first.EndTime == nil {
		t.Fatalf("complete: %+v %v", first, err)
	}
	env.advance(time.Minute)
	again, err := e.CompleteJob(ctx, driverInfra, j.Seq, driverOwner)
	if err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
	// the end time set on the first call stands and the escrow is untouched
	if again.EndTime == nil || *again.EndTime != *first.EndTime {
		t.Fatalf("end time moved: %v vs %v", again.EndTime, first.EndTime)
	}
	if got := balance(t, env, domain.EscrowAccount(driverInfra, j.Seq)); got != 10_000 {
		t.Fatalf("escrow = %d, want 10000", got)
	}
}

func TestWaitingFeePaidAtPickup(t *testing.T) {
	env := newMarket(t)
	e, ctx := env.Engine, env.Ctx

	j := requestRide(t, env, 10_000)
	if _, err := e.AcceptJob(ctx, driverInfra, j.Seq, driverUUID, 10_000, driverOwner); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ArriveAtPickup(ctx, driverInfra, j.Seq, driverOwner); err != nil {
		t.Fatal(err)
	}
	env.advance(6 * time.Minute) // past the 300s threshold
	j, err := e.PickupRider(ctx, driverInfra, j.Seq, driverOwner)
	if err != nil {
		t.Fatalf("pickup: %v", err)
	}
	// the fee goes straight between the operator deposits, never through escrow
	if j.TotalFee != 10_000 {
		t.Fatalf("total fee = %d, want 10000 unchanged", j.TotalFee)
	}
	if got := balance(t, env, domain.EscrowAccount(driverInfra, j.Seq)); got != 10_000 {
		t.Fatalf("escrow = %d, want 10000", got)
	}
	if got := balance(t, env, domain.DepositAccount(driverInfra)); got != 100_300 {
		t.Fatalf("driver deposit = %d, want 100300", got)
	}
	if got := balance(t, env, domain.DepositAccount(customerInfra)); got != 99_700 {
		t.Fatalf("customer deposit = %d, want 99700", got)
	}
}

func TestAcceptFeeMismatch(t *testing.T) {
	env := newMarket(t)
	j := requestRide(t, env, 10_000)
	_, err := env.Engine.AcceptJob(env.Ctx, driverInfra, j.Seq, driverUUID, 9_999, driverOwner)
	wantFault(t, err, fault.RateMismatch)
}

func TestAcceptAfterRateChangeRejected(t *testing.T) {
	env := newMarket(t)
	e, ctx := env.Engine, env.Ctx
	j := requestRide(t, env, 10_000)
	if err := e.SetInfraBasisPoint(ctx, driverInfra, 6_000, driverOwner); err != nil {
		t.Fatal(err)
	}
	_, err := e.AcceptJob(ctx, driverInfra, j.Seq, driverUUID, 10_000, driverOwner)
	wantFault(t, err, fault.RateMismatch)
}

func TestAcceptTwiceRejected(t *testing.T) {
	env := newMarket(t)
	e, ctx := env.Engine, env.Ctx
	j := requestRide(t, env, 10_000)
	if _, err := e.AcceptJob(ctx, driverInfra, j.Seq, driverUUID, 10_000, driverOwner); err != nil {
		t.Fatal(err)
	}
	_, err := e.AcceptJob(ctx, driverInfra, j.Seq, driverUUID, 10_000, driverOwner)
	wantFault(t, err, fault.StaleOrInvalidState)

	// a busy driver cannot take a second ride either
	j2 := requestRide(t, env, 10_000)
	_, err = e.AcceptJob(ctx, driverInfra, j2.Seq, driverUUID, 10_000, driverOwner)
	wantFault(t, err, fault.StaleOrInvalidState)
}

func TestDriverCancellation(t *testing.T) {
	env := newMarket(t)
	e, ctx := env.Engine, env.Ctx

	// within the grace period: full refund, no fee
	j := requestRide(t, env, 10_000)
	if _, err := e.AcceptJob(ctx, driverInfra, j.Seq, driverUUID, 10_000, driverOwner); err != nil {
		t.Fatal(err)
	}
	env.advance(30 * time.Second)
	if err := e.DriverCancelJob(ctx, driverInfra, j.Seq, driverOwner); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := balance(t, env, domain.OwnerAccount(customerOwner)); got != 400_000 {
		t.Fatalf("customer owner = %d, want full refund to 400000", got)
	}
	if got := balance(t, env, domain.DepositAccount(driverInfra)); got != 100_000 {
		t.Fatalf("deposit = %d, no fee expected", got)
	}

	// past the grace period: refund plus the cancellation fee from the deposit
	j = requestRide(t, env, 10_000)
	if _, err := e.AcceptJob(ctx, driverInfra, j.Seq, driverUUID, 10_000, driverOwner); err != nil {
		t.Fatal(err)
	}
	env.advance(61 * time.Second)
	if err := e.DriverCancelJob(ctx, driverInfra, j.Seq, driverOwner); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := balance(t, env, domain.OwnerAccount(customerOwner)); got != 400_500 {
		t.Fatalf("customer owner = %d, want 400500 with fee", got)
	}
	if got := balance(t, env, domain.DepositAccount(driverInfra)); got != 99_500 {
		t.Fatalf("deposit = %d, want 99500 after fee", got)
	}
	a, err := e.Repo.GetInfra(ctx, driverInfra)
	if err != nil || a.Cancellation != 2 {
		t.Fatalf("cancellation count = %d, want 2 (%v)", a.Cancellation, err)
	}
	s, err := e.Repo.GetSession(ctx, driverUUID)
	if err != nil || !s.IsActive {
		t.Fatalf("driver should be released after cancel: %+v %v", s, err)
	}
}

func TestDriverCancelFromOpenRide(t *testing.T) {
	env := newMarket(t)
	e, ctx := env.Engine, env.Ctx

	// the driver operator may back out before any driver accepted; the
	// escrow is refunded in full and no fee applies
	j := requestRide(t, env, 10_000)
	env.advance(10 * time.Minute)
	if err := e.DriverCancelJob(ctx, driverInfra, j.Seq, driverOwner); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := balance(t, env, domain.OwnerAccount(customerOwner)); got != 400_000 {
		t.Fatalf("customer owner = %d, want full refund to 400000", got)
	}
	if got := balance(t, env, domain.DepositAccount(driverInfra)); got != 100_000 {
		t.Fatalf("deposit = %d, no fee expected", got)
	}
	if _, err := e.Repo.GetJob(ctx, driverInfra, j.Seq); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("job should be gone, got %v", err)
	}
}

func TestRiderCancellation(t *testing.T) {
	env := newMarket(t)
	e, ctx := env.Engine, env.Ctx

	// before any driver committed: refund only
	j := requestRide(t, env, 10_000)
	env.advance(10 * time.Minute)
	if err := e.RiderCancelRide(ctx, driverInfra, j.Seq, customerOwner); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := balance(t, env, domain.OwnerAccount(customerOwner)); got != 400_000 {
		t.Fatalf("customer owner = %d, want 400000", got)
	}

	// after the driver committed and past the grace period: fee to the driver
	// operator's owner
	j = requestRide(t, env, 10_000)
	if _, err := e.AcceptJob(ctx, driverInfra, j.Seq, driverUUID, 10_000, driverOwner); err != nil {
		t.Fatal(err)
	}
	env.advance(121 * time.Second)
	if err := e.RiderCancelRide(ctx, driverInfra, j.Seq, customerOwner); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := balance(t, env, domain.OwnerAccount(customerOwner)); got != 399_500 {
		t.Fatalf("customer owner = %d, want 399500 after fee", got)
	}
	if got := balance(t, env, domain.OwnerAccount(driverOwner)); got != 400_500 {
		t.Fatalf("driver owner = %d, want 400500 with fee", got)
	}
	// only the customer side may cancel as rider
	j = requestRide(t, env, 10_000)
	err := e.RiderCancelRide(ctx, driverInfra, j.Seq, driverOwner)
	wantFault(t, err, fault.AuthorizationMismatch)
}

func TestDisputeResolution(t *testing.T) {
	env := newMarket(t)
	e, ctx := env.Engine, env.Ctx

	j := requestRide(t, env, 10_000)
	if _, err := e.AcceptJob(ctx, driverInfra, j.Seq, driverUUID, 10_000, driverOwner); err != nil {
		t.Fatal(err)
	}
	// an outsider cannot open a dispute
	_, err := e.RaiseIssue(ctx, driverInfra, j.Seq, "stranger")
	wantFault(t, err, fault.AuthorizationMismatch)

	j, err = e.RaiseIssue(ctx, driverInfra, j.Seq, customerOwner)
	if err != nil || j.Status != domain.StatusDisputeByCustomer {
		t.Fatalf("raise issue: %+v %v", j, err)
	}
	// frozen in dispute: neither pickup nor settlement may proceed
	_, err = e.ArriveAtPickup(ctx, driverInfra, j.Seq, driverOwner)
	wantFault(t, err, fault.StaleOrInvalidState)

	// only the authority resolves
	_, err = e.ResolveDispute(ctx, driverInfra, j.Seq, domain.InfraDriver, driverOwner)
	wantFault(t, err, fault.AuthorizationMismatch)

	payouts, err := e.ResolveDispute(ctx, driverInfra, j.Seq, domain.InfraDriver, authority)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if payouts[domain.OwnerAccount(driverOwner)] != 7_900 {
		t.Fatalf("driver payout = %d, want 7900", payouts[domain.OwnerAccount(driverOwner)])
	}
	// the losing customer side is slashed and carries the loss
	if got := balance(t, env, domain.DepositAccount(customerInfra)); got != 90_000 {
		t.Fatalf("customer deposit = %d, want 90000 after slash", got)
	}
	a, err := e.Repo.GetInfra(ctx, customerInfra)
	if err != nil || a.CasesLostInDispute != 1 {
		t.Fatalf("cases lost = %d, want 1 (%v)", a.CasesLostInDispute, err)
	}
}

func TestDisputeCustomerWins(t *testing.T) {
	env := newMarket(t)
	e, ctx := env.Engine, env.Ctx

	j := requestRide(t, env, 10_000)
	if _, err := e.AcceptJob(ctx, driverInfra, j.Seq, driverUUID, 10_000, driverOwner); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RaiseIssue(ctx, driverInfra, j.Seq, driverOwner); err != nil {
		t.Fatal(err)
	}
	payouts, err := e.ResolveDispute(ctx, driverInfra, j.Seq, domain.InfraCustomer, authority)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if payouts[domain.OwnerAccount(customerOwner)] != 10_000 {
		t.Fatalf("refund = %d, want 10000", payouts[domain.OwnerAccount(customerOwner)])
	}
	if got := balance(t, env, domain.DepositAccount(driverInfra)); got != 90_000 {
		t.Fatalf("driver deposit = %d, want 90000 after slash", got)
	}
	if got := balance(t, env, domain.TreasuryAccount("FRA")); got != 10_000 {
		t.Fatalf("treasury = %d, want the slash amount", got)
	}
}

func TestDisputeOnOpenRide(t *testing.T) {
	env := newMarket(t)
	e, ctx := env.Engine, env.Ctx

	// a ride nobody accepted yet can still be disputed
	j := requestRide(t, env, 10_000)
	j, err := e.RaiseIssue(ctx, driverInfra, j.Seq, customerOwner)
	if err != nil || j.Status != domain.StatusDisputeByCustomer {
		t.Fatalf("raise issue: %+v %v", j, err)
	}
	payouts, err := e.ResolveDispute(ctx, driverInfra, j.Seq, domain.InfraCustomer, authority)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if payouts[domain.OwnerAccount(customerOwner)] != 10_000 {
		t.Fatalf("refund = %d, want 10000", payouts[domain.OwnerAccount(customerOwner)])
	}
	if got := balance(t, env, domain.OwnerAccount(customerOwner)); got != 400_000 {
		t.Fatalf("customer owner = %d, want 400000 after refund", got)
	}
}

func TestRequestRideRejections(t *testing.T) {
	env := newMarket(t)
	e, ctx := env.Engine, env.Ctx

	base := engine.RideRequestOptions{
		CustomerInfraID: customerInfra,
		DriverInfraID:   driverInfra,
		TotalFee:        10_000,
		Pickup:          domain.Coordinates{Lat: 48.85, Long: 2.35},
		Drop:            domain.Coordinates{Lat: 48.86, Long: 2.29},
		ActorID:         customerOwner,
	}

	bad := base
	bad.Pickup = domain.Coordinates{Lat: 91, Long: 2.35}
	_, err := e.RequestRide(ctx, bad)
	wantFault(t, err, fault.InvalidCoordinate)

	bad = base
	bad.Drop = domain.Coordinates{Lat: 48.86, Long: -180.01}
	_, err = e.RequestRide(ctx, bad)
	wantFault(t, err, fault.InvalidCoordinate)

	bad = base
	bad.TotalFee = 299 // below the country base rate
	_, err = e.RequestRide(ctx, bad)
	wantFault(t, err, fault.RateMismatch)

	bad = base
	bad.TotalFee = 500_000 // more than the owner holds
	_, err = e.RequestRide(ctx, bad)
	wantFault(t, err, fault.InsufficientFunds)

	// only the customer operator's owner may request through it
	bad = base
	bad.ActorID = driverOwner
	_, err = e.RequestRide(ctx, bad)
	wantFault(t, err, fault.AuthorizationMismatch)
}

func TestSuspensionBlocksRides(t *testing.T) {
	env := newMarket(t)
	e, ctx := env.Engine, env.Ctx

	if err := e.SuspendInfra(ctx, driverInfra, "complaints", authority); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	_, err := e.RequestRide(ctx, engine.RideRequestOptions{
		CustomerInfraID: customerInfra, DriverInfraID: driverInfra, TotalFee: 10_000,
		Pickup:  domain.Coordinates{Lat: 48.85, Long: 2.35},
		Drop:    domain.Coordinates{Lat: 48.86, Long: 2.29},
		ActorID: customerOwner,
	})
	wantFault(t, err, fault.FrozenAccount)

	if err := e.ReinstateInfra(ctx, driverInfra, authority); err != nil {
		t.Fatalf("reinstate: %v", err)
	}
	requestRide(t, env, 10_000)
}

func TestRegistrationSeqGuard(t *testing.T) {
	env := newMarket(t)
	e, ctx := env.Engine, env.Ctx
	if _, err := e.Deposit(ctx, "other", 200_000); err != nil {
		t.Fatal(err)
	}
	_, err := e.RegisterInfra(ctx, engine.InfraRegisterOptions{
		Kind: domain.InfraDriver, CountryCode: "FRA", OwnerID: "other",
		ExpectedSeq: 5, ActorID: "other",
	})
	wantFault(t, err, fault.StaleOrInvalidState)

	// the failed attempt rolled back, so the next registration gets seq 2
	a, err := e.RegisterInfra(ctx, engine.InfraRegisterOptions{
		Kind: domain.InfraDriver, CountryCode: "FRA", OwnerID: "other", ActorID: "other",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if a.ID != "FRA-driver-2" {
		t.Fatalf("infra id = %s, want FRA-driver-2", a.ID)
	}
}

func TestRegistrationRequiresFunds(t *testing.T) {
	env := newTestEnv(t)
	e, ctx := env.Engine, env.Ctx
	if _, err := e.InitOrUpdateCountry(ctx, "FRA", authority, nil, authority); err != nil {
		t.Fatal(err)
	}
	_, err := e.RegisterInfra(ctx, engine.InfraRegisterOptions{
		Kind: domain.InfraDriver, CountryCode: "FRA", OwnerID: "broke", ActorID: "broke",
	})
	wantFault(t, err, fault.InsufficientFunds)
}

func TestEndWorkBlockedWhileOnRide(t *testing.T) {
	env := newMarket(t)
	e, ctx := env.Engine, env.Ctx
	j := requestRide(t, env, 10_000)
	if _, err := e.AcceptJob(ctx, driverInfra, j.Seq, driverUUID, 10_000, driverOwner); err != nil {
		t.Fatal(err)
	}
	err := e.EndWork(ctx, driverUUID, driverOwner)
	wantFault(t, err, fault.StaleOrInvalidState)

	if err := e.DriverCancelJob(ctx, driverInfra, j.Seq, driverOwner); err != nil {
		t.Fatal(err)
	}
	if err := e.EndWork(ctx, driverUUID, driverOwner); err != nil {
		t.Fatalf("end work after cancel: %v", err)
	}
	if _, err := e.Repo.GetSession(ctx, driverUUID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("session should be gone, got %v", err)
	}
}

func TestStartWorkGating(t *testing.T) {
	env := newMarket(t)
	e, ctx := env.Engine, env.Ctx

	// duplicate session
	_, err := e.StartWork(ctx, engine.StartWorkOptions{
		DriverUUID: driverUUID, InfraID: driverInfra,
		Location: domain.Coordinates{Lat: 48.85, Long: 2.35}, ActorID: driverOwner,
	})
	wantFault(t, err, fault.AlreadyInitialized)

	// not the owner
	_, err = e.StartWork(ctx, engine.StartWorkOptions{
		DriverUUID: "drv-2", InfraID: driverInfra,
		Location: domain.Coordinates{Lat: 48.85, Long: 2.35}, ActorID: customerOwner,
	})
	wantFault(t, err, fault.AuthorizationMismatch)

	// suspended operator cannot field drivers
	if err := e.SuspendInfra(ctx, driverInfra, "", authority); err != nil {
		t.Fatal(err)
	}
	_, err = e.StartWork(ctx, engine.StartWorkOptions{
		DriverUUID: "drv-2", InfraID: driverInfra,
		Location: domain.Coordinates{Lat: 48.85, Long: 2.35}, ActorID: driverOwner,
	})
	wantFault(t, err, fault.FrozenAccount)
}

func TestCountryGovernance(t *testing.T) {
	env := newTestEnv(t)
	e, ctx := env.Engine, env.Ctx
	if _, err := e.InitOrUpdateCountry(ctx, "FRA", authority, nil, authority); err != nil {
		t.Fatal(err)
	}
	// only the recorded authority may update parameters
	_, err := e.InitOrUpdateCountry(ctx, "FRA", "", nil, "stranger")
	wantFault(t, err, fault.AuthorizationMismatch)

	if err := e.SetCountryAuthority(ctx, "FRA", "gov2", authority); err != nil {
		t.Fatalf("handover: %v", err)
	}
	if _, err := e.InitOrUpdateCountry(ctx, "FRA", "", nil, "gov2"); err != nil {
		t.Fatalf("update by new authority: %v", err)
	}
	err = e.SetCountryAuthority(ctx, "FRA", "gov3", authority)
	wantFault(t, err, fault.AuthorizationMismatch)
}

func TestSlashAndCompanyUpdate(t *testing.T) {
	env := newMarket(t)
	e, ctx := env.Engine, env.Ctx

	amount, err := e.SlashInfra(ctx, driverInfra, 1.5, "fraud", authority)
	if err != nil {
		t.Fatalf("slash: %v", err)
	}
	if amount != 15_000 {
		t.Fatalf("slash amount = %d, want 15000", amount)
	}
	if got := balance(t, env, domain.DepositAccount(driverInfra)); got != 85_000 {
		t.Fatalf("deposit = %d, want 85000", got)
	}

	a, err := e.UpdateInfraCompany(ctx, driverInfra, "Acme Fleet SA", "RCS-123", "https://acme.example", driverOwner)
	if err != nil {
		t.Fatalf("update company: %v", err)
	}
	if a.CompanyRev != 2 || !a.IsFrozen {
		t.Fatalf("company update should bump rev and freeze: %+v", a)
	}
	// frozen until re-approved
	err = e.SetInfraBasisPoint(ctx, driverInfra, 6000, driverOwner)
	wantFault(t, err, fault.FrozenAccount)

	if err := e.ApproveInfra(ctx, driverInfra, authority); err != nil {
		t.Fatalf("re-approve: %v", err)
	}
	if err := e.SetInfraBasisPoint(ctx, driverInfra, 6000, driverOwner); err != nil {
		t.Fatalf("set basis points: %v", err)
	}
}

func TestShareChangeDoesNotMoveInFlightRides(t *testing.T) {
	env := newMarket(t)
	e, ctx := env.Engine, env.Ctx

	j := requestRide(t, env, 10_000)
	if _, err := e.AcceptJob(ctx, driverInfra, j.Seq, driverUUID, 10_000, driverOwner); err != nil {
		t.Fatal(err)
	}
	if err := e.SetInfraBasisPoint(ctx, driverInfra, 1000, driverOwner); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ArriveAtPickup(ctx, driverInfra, j.Seq, driverOwner); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PickupRider(ctx, driverInfra, j.Seq, driverOwner); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CompleteJob(ctx, driverInfra, j.Seq, driverOwner); err != nil {
		t.Fatal(err)
	}
	env.advance(2 * time.Hour)
	payouts, err := e.SettleJob(ctx, driverInfra, j.Seq, driverOwner)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	// still the snapshot taken at request time
	if payouts[domain.OwnerAccount(driverOwner)] != 7_900 {
		t.Fatalf("driver payout = %d, want snapshotted 7900", payouts[domain.OwnerAccount(driverOwner)])
	}
}

func TestSettlementDustSweptToTreasury(t *testing.T) {
	env := newMarket(t)
	e, ctx := env.Engine, env.Ctx
	before := totalFunds(t, env)

	// 10_001 floors every share: 7900bp -> 7900, 2000bp -> 2000, 100bp -> 100,
	// leaving 1 unit of dust
	j := requestRide(t, env, 10_001)
	if _, err := e.AcceptJob(ctx, driverInfra, j.Seq, driverUUID, 10_001, driverOwner); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ArriveAtPickup(ctx, driverInfra, j.Seq, driverOwner); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PickupRider(ctx, driverInfra, j.Seq, driverOwner); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CompleteJob(ctx, driverInfra, j.Seq, driverOwner); err != nil {
		t.Fatal(err)
	}
	env.advance(2 * time.Hour)
	payouts, err := e.SettleJob(ctx, driverInfra, j.Seq, driverOwner)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if payouts[domain.TreasuryAccount("FRA")] != 101 {
		t.Fatalf("treasury payout = %d, want 100 + 1 dust", payouts[domain.TreasuryAccount("FRA")])
	}
	if got := balance(t, env, domain.EscrowAccount(driverInfra, j.Seq)); got != 0 {
		t.Fatalf("escrow not drained: %d", got)
	}
	if after := totalFunds(t, env); after != before {
		t.Fatalf("funds not conserved: %d -> %d", before, after)
	}
}

func TestDepositAndTransfer(t *testing.T) {
	env := newTestEnv(t)
	e, ctx := env.Engine, env.Ctx

	b, err := e.Deposit(ctx, "alice", 1_000)
	if err != nil || b != 1_000 {
		t.Fatalf("deposit: %d %v", b, err)
	}
	b, err = e.Deposit(ctx, "alice", 500)
	if err != nil || b != 1_500 {
		t.Fatalf("second deposit: %d %v", b, err)
	}
	if err := e.TransferFunds(ctx, "alice", domain.OwnerAccount("bob"), 600); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := balance(t, env, domain.OwnerAccount("bob")); got != 600 {
		t.Fatalf("bob = %d, want 600", got)
	}
	err = e.TransferFunds(ctx, "alice", domain.OwnerAccount("bob"), 10_000)
	wantFault(t, err, fault.InsufficientFunds)
}
