package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"ridenet/internal/distribution"
	"ridenet/internal/domain"
	"ridenet/internal/engine/fault"
	"ridenet/internal/events"
	"ridenet/internal/ledger"
	"ridenet/internal/repo"
)

// RideRequestOptions are parameters for opening a ride. The total fee is
// escrowed from the customer operator's owner before the job row exists, so
// a committed job is always fully funded.
type RideRequestOptions struct {
	CustomerInfraID    string
	DriverInfraID      string
	TotalFee           uint64
	Pickup             domain.Coordinates
	Drop               domain.Coordinates
	EncryptedData      string
	EncryptedSharedKey string
	ActorID            string
}

func (e Engine) RequestRide(ctx context.Context, opts RideRequestOptions) (domain.Job, error) {
	if err := ensureCoordinates(opts.Pickup); err != nil {
		return domain.Job{}, err
	}
	if err := ensureCoordinates(opts.Drop); err != nil {
		return domain.Job{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	customer, err := e.requireOperational(ctx, tx, opts.CustomerInfraID, domain.InfraCustomer)
	if err != nil {
		return domain.Job{}, err
	}
	driver, err := e.requireOperational(ctx, tx, opts.DriverInfraID, domain.InfraDriver)
	if err != nil {
		return domain.Job{}, err
	}
	if customer.OwnerID != opts.ActorID {
		return domain.Job{}, fault.New(fault.AuthorizationMismatch, "only the owner of %s may request rides through it", opts.CustomerInfraID)
	}
	if customer.CountryCode != driver.CountryCode {
		return domain.Job{}, fault.New(fault.StaleOrInvalidState, "operators are registered in different countries")
	}
	cfg, err := e.countryConfig(ctx, tx, driver.CountryCode)
	if err != nil {
		return domain.Job{}, err
	}
	if opts.TotalFee < cfg.Fees.BaseRate {
		return domain.Job{}, fault.With(fault.RateMismatch,
			map[string]any{"total_fee": opts.TotalFee, "base_rate": cfg.Fees.BaseRate},
			"total fee %d is below the country base rate %d", opts.TotalFee, cfg.Fees.BaseRate)
	}

	dist := distribution.Snapshot(driver, customer, cfg.Fees.PlatformBasisPoints)
	if err := distribution.Validate(dist); err != nil {
		return domain.Job{}, err
	}

	counter, err := e.Repo.GetJobCounterTx(ctx, tx, driver.ID)
	if err != nil {
		return domain.Job{}, err
	}
	seq := counter + 1
	if err := e.Repo.SetJobCounterTx(ctx, tx, driver.ID, seq); err != nil {
		return domain.Job{}, err
	}

	j := domain.Job{
		DriverInfraID:      driver.ID,
		Seq:                seq,
		CustomerInfraID:    customer.ID,
		Status:             domain.StatusInit,
		TotalFee:           opts.TotalFee,
		Distribution:       dist,
		InitializedTime:    e.unix(),
		EncryptedData:      opts.EncryptedData,
		EncryptedSharedKey: opts.EncryptedSharedKey,
	}
	from := domain.OwnerAccount(customer.OwnerID)
	escrow := domain.EscrowAccount(driver.ID, seq)
	if err := ledger.Transfer(ctx, tx, from, escrow, opts.TotalFee); err != nil {
		return domain.Job{}, err
	}
	if err := e.Events.Transfer(ctx, tx, driver.CountryCode, "job", domain.JobKey(driver.ID, seq), opts.ActorID, from, escrow, opts.TotalFee, "escrow_funding"); err != nil {
		return domain.Job{}, err
	}
	if err := e.Repo.InsertJobTx(ctx, tx, j); err != nil {
		return domain.Job{}, fmt.Errorf("insert job: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "job.requested", driver.CountryCode, "job", domain.JobKey(driver.ID, seq), opts.ActorID, events.EventPayload{
		"customer_infra_id": customer.ID,
		"total_fee":         opts.TotalFee,
		"pickup":            opts.Pickup,
		"drop":              opts.Drop,
	}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

// AcceptJob assigns a working driver to an open ride. The driver side states
// the fee it believes it accepted; a mismatch with the escrowed fee rejects
// the acceptance instead of silently underpaying one side.
func (e Engine) AcceptJob(ctx context.Context, driverInfraID string, seq uint64, driverUUID string, expectedFee uint64, actorID string) (domain.Job, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	j, driver, err := e.loadJobForDriver(ctx, tx, driverInfraID, seq, actorID)
	if err != nil {
		return domain.Job{}, err
	}
	if j.Status != domain.StatusInit {
		return domain.Job{}, fault.StaleState("accept", j.Status)
	}
	if expectedFee != j.TotalFee {
		return domain.Job{}, fault.With(fault.RateMismatch,
			map[string]any{"expected_fee": expectedFee, "total_fee": j.TotalFee},
			"driver expected fee %d, escrowed fee is %d", expectedFee, j.TotalFee)
	}
	customer, err := e.Repo.GetInfraTx(ctx, tx, j.CustomerInfraID)
	if err != nil {
		return domain.Job{}, err
	}
	cfg, err := e.countryConfig(ctx, tx, driver.CountryCode)
	if err != nil {
		return domain.Job{}, err
	}
	// Shares snapshotted at request time must still match the live rates.
	// A drift here means an operator changed its share mid-flight; the ride
	// has to be re-requested at the current rates.
	if live := distribution.Snapshot(driver, customer, cfg.Fees.PlatformBasisPoints); !slices.Equal(live, j.Distribution) {
		return domain.Job{}, fault.With(fault.RateMismatch,
			map[string]any{"snapshot": j.Distribution, "live": live},
			"operator fee shares changed since ride %s was requested", domain.JobKey(driverInfraID, seq))
	}
	s, err := e.Repo.GetSessionTx(ctx, tx, driverUUID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Job{}, fault.New(fault.NotYetInitialized, "driver %s has no open session", driverUUID)
	}
	if err != nil {
		return domain.Job{}, err
	}
	if s.InfraID != driver.ID {
		return domain.Job{}, fault.New(fault.AuthorizationMismatch, "driver %s works for another operator", driverUUID)
	}
	if !s.IsActive {
		return domain.Job{}, fault.New(fault.StaleOrInvalidState, "driver %s is already on a ride", driverUUID)
	}
	s.IsActive = false
	if err := e.Repo.UpdateSessionTx(ctx, tx, s); err != nil {
		return domain.Job{}, err
	}

	now := e.unix()
	j.DriverUUID = driverUUID
	j.Status = domain.StatusJobAccepted
	j.StartTime = &now
	if err := e.Repo.UpdateJobTx(ctx, tx, j); err != nil {
		return domain.Job{}, err
	}
	if err := e.Repo.BumpInfraStatTx(ctx, tx, j.DriverInfraID, repo.InfraStatMatchedRide); err != nil {
		return domain.Job{}, err
	}
	if err := e.Repo.BumpInfraStatTx(ctx, tx, j.CustomerInfraID, repo.InfraStatMatchedRide); err != nil {
		return domain.Job{}, err
	}
	if err := e.Events.Append(ctx, tx, "job.accepted", driver.CountryCode, "job", domain.JobKey(j.DriverInfraID, seq), actorID, events.EventPayload{
		"driver_uuid": driverUUID,
	}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

// ArriveAtPickup marks the driver as waiting at the pickup point. The
// recorded arrival time anchors the waiting-fee clock.
func (e Engine) ArriveAtPickup(ctx context.Context, driverInfraID string, seq uint64, actorID string) (domain.Job, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	j, driver, err := e.loadJobForDriver(ctx, tx, driverInfraID, seq, actorID)
	if err != nil {
		return domain.Job{}, err
	}
	if j.Status != domain.StatusJobAccepted {
		return domain.Job{}, fault.StaleState("arrive", j.Status)
	}
	now := e.unix()
	j.Status = domain.StatusArrived
	j.ArrivalTime = &now
	if err := e.Repo.UpdateJobTx(ctx, tx, j); err != nil {
		return domain.Job{}, err
	}
	if err := e.Events.Append(ctx, tx, "job.arrived", driver.CountryCode, "job", domain.JobKey(j.DriverInfraID, seq), actorID, nil); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

// PickupRider starts the ride. If the rider kept the driver waiting past the
// country's threshold, the waiting fee moves from the customer operator's
// deposit to the driver operator's deposit on the spot, outside the escrow.
func (e Engine) PickupRider(ctx context.Context, driverInfraID string, seq uint64, actorID string) (domain.Job, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	j, driver, err := e.loadJobForDriver(ctx, tx, driverInfraID, seq, actorID)
	if err != nil {
		return domain.Job{}, err
	}
	if j.Status != domain.StatusArrived {
		return domain.Job{}, fault.StaleState("pickup", j.Status)
	}
	cfg, err := e.countryConfig(ctx, tx, driver.CountryCode)
	if err != nil {
		return domain.Job{}, err
	}

	now := e.unix()
	var waitingFee uint64
	if j.ArrivalTime != nil && cfg.Waiting.ThresholdSec > 0 && now-*j.ArrivalTime > int64(cfg.Waiting.ThresholdSec) {
		waitingFee = cfg.Waiting.Amount
	}
	if waitingFee > 0 {
		from := domain.DepositAccount(j.CustomerInfraID)
		to := domain.DepositAccount(j.DriverInfraID)
		if err := ledger.Transfer(ctx, tx, from, to, waitingFee); err != nil {
			return domain.Job{}, err
		}
		if err := e.Events.Transfer(ctx, tx, driver.CountryCode, "job", domain.JobKey(j.DriverInfraID, seq), actorID, from, to, waitingFee, "waiting_fee"); err != nil {
			return domain.Job{}, err
		}
	}
	j.Status = domain.StatusStarted
	if err := e.Repo.UpdateJobTx(ctx, tx, j); err != nil {
		return domain.Job{}, err
	}
	if err := e.Events.Append(ctx, tx, "job.started", driver.CountryCode, "job", domain.JobKey(j.DriverInfraID, seq), actorID, events.EventPayload{
		"waiting_fee": waitingFee,
	}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

// CompleteJob marks the ride as finished. Funds stay in escrow until the
// finalize window passes so either side can still raise an issue; SettleJob
// pays out afterwards.
func (e Engine) CompleteJob(ctx context.Context, driverInfraID string, seq uint64, actorID string) (domain.Job, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	j, driver, err := e.loadJobForDriver(ctx, tx, driverInfraID, seq, actorID)
	if err != nil {
		return domain.Job{}, err
	}
	if j.Status == domain.StatusCompleted {
		// Repeat calls before settlement keep the original end time and
		// move no money.
		return j, nil
	}
	if j.Status != domain.StatusStarted {
		return domain.Job{}, fault.StaleState("complete", j.Status)
	}
	now := e.unix()
	j.Status = domain.StatusCompleted
	j.EndTime = &now
	if err := e.Repo.UpdateJobTx(ctx, tx, j); err != nil {
		return domain.Job{}, err
	}
	if err := e.Events.Append(ctx, tx, "job.completed", driver.CountryCode, "job", domain.JobKey(j.DriverInfraID, seq), actorID, nil); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

// SettleJob distributes the escrowed fee of a completed ride once the
// finalize window has passed, then closes the job.
func (e Engine) SettleJob(ctx context.Context, driverInfraID string, seq uint64, actorID string) (map[string]uint64, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, driverInfraID, seq)
	if err != nil {
		return nil, err
	}
	if j.Status != domain.StatusCompleted {
		return nil, fault.StaleState("settle", j.Status)
	}
	driver, err := e.Repo.GetInfraTx(ctx, tx, j.DriverInfraID)
	if err != nil {
		return nil, err
	}
	cfg, err := e.countryConfig(ctx, tx, driver.CountryCode)
	if err != nil {
		return nil, err
	}
	if j.EndTime == nil {
		return nil, fault.New(fault.IntegrityFault, "completed job %s has no end time", domain.JobKey(driverInfraID, seq))
	}
	now := e.unix()
	if elapsed := now - *j.EndTime; elapsed < int64(cfg.Settlement.FinalizeDurationSec) {
		return nil, fault.With(fault.StaleOrInvalidState,
			map[string]any{"elapsed_sec": elapsed, "finalize_duration_sec": cfg.Settlement.FinalizeDurationSec},
			"finalize window still open for %s", domain.JobKey(driverInfraID, seq))
	}

	payouts, err := e.payOutDistribution(ctx, tx, j, driver.CountryCode, actorID)
	if err != nil {
		return nil, err
	}
	if err := e.closeJob(ctx, tx, j); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "job.settled", driver.CountryCode, "job", domain.JobKey(driverInfraID, seq), actorID, events.EventPayload{
		"total_fee": j.TotalFee,
		"payouts":   payouts,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return payouts, nil
}

// DriverCancelJob backs the driver side out of an open or accepted ride. The
// escrow always goes back to the customer side in full; a driver who held an
// accepted ride past the country's grace period also pays the cancellation
// fee out of the operator's security deposit.
func (e Engine) DriverCancelJob(ctx context.Context, driverInfraID string, seq uint64, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	j, driver, err := e.loadJobForDriver(ctx, tx, driverInfraID, seq, actorID)
	if err != nil {
		return err
	}
	switch j.Status {
	case domain.StatusInit, domain.StatusJobAccepted, domain.StatusArrived:
	default:
		return fault.StaleState("driver cancel", j.Status)
	}
	cfg, err := e.countryConfig(ctx, tx, driver.CountryCode)
	if err != nil {
		return err
	}
	customer, err := e.Repo.GetInfraTx(ctx, tx, j.CustomerInfraID)
	if err != nil {
		return err
	}
	key := domain.JobKey(driverInfraID, seq)
	customerOwner := domain.OwnerAccount(customer.OwnerID)

	refund, err := ledger.Drain(ctx, tx, domain.EscrowAccount(driverInfraID, seq), customerOwner)
	if err != nil {
		return err
	}
	if err := e.Events.Transfer(ctx, tx, driver.CountryCode, "job", key, actorID, domain.EscrowAccount(driverInfraID, seq), customerOwner, refund, "escrow_refund"); err != nil {
		return err
	}

	var fee uint64
	now := e.unix()
	if j.StartTime != nil && now-*j.StartTime > int64(cfg.Cancellation.DriverThresholdSec) {
		fee = cfg.Cancellation.Amount
		from := domain.DepositAccount(driver.ID)
		if err := ledger.Transfer(ctx, tx, from, customerOwner, fee); err != nil {
			return err
		}
		if err := e.Events.Transfer(ctx, tx, driver.CountryCode, "job", key, actorID, from, customerOwner, fee, "driver_cancellation_fee"); err != nil {
			return err
		}
	}
	if err := e.Repo.BumpInfraStatTx(ctx, tx, driver.ID, repo.InfraStatCancellation); err != nil {
		return err
	}
	if err := e.closeJob(ctx, tx, j); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "job.cancelled_by_driver", driver.CountryCode, "job", key, actorID, events.EventPayload{
		"refund":           refund,
		"cancellation_fee": fee,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// RiderCancelRide cancels from the customer side. The escrow refund is
// unconditional; a rider who cancels after the driver committed and past the
// grace period compensates the driver operator with the cancellation fee.
func (e Engine) RiderCancelRide(ctx context.Context, driverInfraID string, seq uint64, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, driverInfraID, seq)
	if err != nil {
		return err
	}
	customer, err := e.Repo.GetInfraTx(ctx, tx, j.CustomerInfraID)
	if err != nil {
		return err
	}
	if customer.OwnerID != actorID {
		return fault.New(fault.AuthorizationMismatch, "only the owner of %s may cancel this ride", customer.ID)
	}
	switch j.Status {
	case domain.StatusInit, domain.StatusJobAccepted, domain.StatusArrived:
	default:
		return fault.StaleState("rider cancel", j.Status)
	}
	driver, err := e.Repo.GetInfraTx(ctx, tx, j.DriverInfraID)
	if err != nil {
		return err
	}
	cfg, err := e.countryConfig(ctx, tx, driver.CountryCode)
	if err != nil {
		return err
	}
	key := domain.JobKey(driverInfraID, seq)
	customerOwner := domain.OwnerAccount(customer.OwnerID)

	refund, err := ledger.Drain(ctx, tx, domain.EscrowAccount(driverInfraID, seq), customerOwner)
	if err != nil {
		return err
	}
	if err := e.Events.Transfer(ctx, tx, driver.CountryCode, "job", key, actorID, domain.EscrowAccount(driverInfraID, seq), customerOwner, refund, "escrow_refund"); err != nil {
		return err
	}

	var fee uint64
	now := e.unix()
	if j.Status != domain.StatusInit && j.StartTime != nil && now-*j.StartTime > int64(cfg.Cancellation.RiderThresholdSec) {
		fee = cfg.Cancellation.Amount
		driverOwner := domain.OwnerAccount(driver.OwnerID)
		if err := ledger.Transfer(ctx, tx, customerOwner, driverOwner, fee); err != nil {
			return err
		}
		if err := e.Events.Transfer(ctx, tx, driver.CountryCode, "job", key, actorID, customerOwner, driverOwner, fee, "rider_cancellation_fee"); err != nil {
			return err
		}
	}
	if err := e.Repo.BumpInfraStatTx(ctx, tx, customer.ID, repo.InfraStatCancellation); err != nil {
		return err
	}
	if err := e.closeJob(ctx, tx, j); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "job.cancelled_by_customer", driver.CountryCode, "job", key, actorID, events.EventPayload{
		"refund":           refund,
		"cancellation_fee": fee,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// RaiseIssue freezes a ride in a dispute status. Funds stay in escrow and
// automatic settlement is blocked until the country authority resolves it.
func (e Engine) RaiseIssue(ctx context.Context, driverInfraID string, seq uint64, actorID string) (domain.Job, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, driverInfraID, seq)
	if err != nil {
		return domain.Job{}, err
	}
	switch j.Status {
	case domain.StatusInit, domain.StatusJobAccepted, domain.StatusArrived, domain.StatusStarted, domain.StatusCompleted:
	default:
		return domain.Job{}, fault.StaleState("raise issue", j.Status)
	}
	driver, err := e.Repo.GetInfraTx(ctx, tx, j.DriverInfraID)
	if err != nil {
		return domain.Job{}, err
	}
	customer, err := e.Repo.GetInfraTx(ctx, tx, j.CustomerInfraID)
	if err != nil {
		return domain.Job{}, err
	}
	switch actorID {
	case driver.OwnerID:
		j.Status = domain.StatusDisputeByDriver
	case customer.OwnerID:
		j.Status = domain.StatusDisputeByCustomer
	default:
		return domain.Job{}, fault.New(fault.AuthorizationMismatch, "only a party to the ride may raise an issue")
	}
	if err := e.Repo.UpdateJobTx(ctx, tx, j); err != nil {
		return domain.Job{}, err
	}
	if err := e.Repo.BumpInfraStatTx(ctx, tx, driver.ID, repo.InfraStatDisputes); err != nil {
		return domain.Job{}, err
	}
	if err := e.Repo.BumpInfraStatTx(ctx, tx, customer.ID, repo.InfraStatDisputes); err != nil {
		return domain.Job{}, err
	}
	if err := e.Events.Append(ctx, tx, "job.dispute_raised", driver.CountryCode, "job", domain.JobKey(driverInfraID, seq), actorID, events.EventPayload{
		"status": j.Status,
	}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

// ResolveDispute is the country authority's arbitration verdict. A win for
// the driver side settles the fee per the snapshot; a win for the customer
// side refunds the escrow in full. The loser is slashed from its security
// deposit and carries the loss on its record.
func (e Engine) ResolveDispute(ctx context.Context, driverInfraID string, seq uint64, winnerKind, actorID string) (map[string]uint64, error) {
	if winnerKind != domain.InfraDriver && winnerKind != domain.InfraCustomer {
		return nil, fmt.Errorf("winner must be %q or %q", domain.InfraDriver, domain.InfraCustomer)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	j, err := e.Repo.GetJobTx(ctx, tx, driverInfraID, seq)
	if err != nil {
		return nil, err
	}
	if j.Status != domain.StatusDisputeByDriver && j.Status != domain.StatusDisputeByCustomer {
		return nil, fault.StaleState("resolve dispute", j.Status)
	}
	driver, err := e.Repo.GetInfraTx(ctx, tx, j.DriverInfraID)
	if err != nil {
		return nil, err
	}
	customer, err := e.Repo.GetInfraTx(ctx, tx, j.CustomerInfraID)
	if err != nil {
		return nil, err
	}
	country, err := e.Repo.GetCountryTx(ctx, tx, driver.CountryCode)
	if err != nil {
		return nil, err
	}
	if country.AuthorityID != actorID {
		return nil, fault.New(fault.AuthorizationMismatch, "only the authority of %s may resolve disputes", driver.CountryCode)
	}
	cfg, err := e.countryConfig(ctx, tx, driver.CountryCode)
	if err != nil {
		return nil, err
	}
	key := domain.JobKey(driverInfraID, seq)

	var payouts map[string]uint64
	if winnerKind == domain.InfraDriver {
		payouts, err = e.payOutDistribution(ctx, tx, j, driver.CountryCode, actorID)
		if err != nil {
			return nil, err
		}
	} else {
		customerOwner := domain.OwnerAccount(customer.OwnerID)
		refund, err := ledger.Drain(ctx, tx, domain.EscrowAccount(driverInfraID, seq), customerOwner)
		if err != nil {
			return nil, err
		}
		if err := e.Events.Transfer(ctx, tx, driver.CountryCode, "job", key, actorID, domain.EscrowAccount(driverInfraID, seq), customerOwner, refund, "dispute_refund"); err != nil {
			return nil, err
		}
		payouts = map[string]uint64{customerOwner: refund}
	}

	loser := driver
	if winnerKind == domain.InfraDriver {
		loser = customer
	}
	slash := cfg.Deposits.BaseSlashAmount
	if slash > 0 {
		from := domain.DepositAccount(loser.ID)
		to := domain.TreasuryAccount(driver.CountryCode)
		if err := ledger.Transfer(ctx, tx, from, to, slash); err != nil {
			return nil, err
		}
		if err := e.Events.Transfer(ctx, tx, driver.CountryCode, "job", key, actorID, from, to, slash, "dispute_slash"); err != nil {
			return nil, err
		}
	}
	if err := e.Repo.BumpInfraStatTx(ctx, tx, loser.ID, repo.InfraStatCasesLost); err != nil {
		return nil, err
	}
	if err := e.closeJob(ctx, tx, j); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "job.dispute_resolved", driver.CountryCode, "job", key, actorID, events.EventPayload{
		"winner":  winnerKind,
		"payouts": payouts,
		"slash":   slash,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return payouts, nil
}

// --- shared helpers ---

// requireOperational loads an infra and checks it may take part in new rides.
func (e Engine) requireOperational(ctx context.Context, tx *sql.Tx, infraID, kind string) (domain.InfraAccount, error) {
	a, err := e.Repo.GetInfraTx(ctx, tx, infraID)
	if err != nil {
		return a, err
	}
	if a.Kind != kind {
		return a, fault.New(fault.StaleOrInvalidState, "%s is not a %s operator", infraID, kind)
	}
	if !a.IsVerified {
		return a, fault.New(fault.StaleOrInvalidState, "%s is not approved yet", infraID)
	}
	if a.IsFrozen {
		return a, fault.New(fault.FrozenAccount, "%s is frozen", infraID)
	}
	return a, nil
}

// loadJobForDriver loads a job and checks the acting party owns its driver
// operator.
func (e Engine) loadJobForDriver(ctx context.Context, tx *sql.Tx, driverInfraID string, seq uint64, actorID string) (domain.Job, domain.InfraAccount, error) {
	j, err := e.Repo.GetJobTx(ctx, tx, driverInfraID, seq)
	if err != nil {
		return domain.Job{}, domain.InfraAccount{}, err
	}
	driver, err := e.Repo.GetInfraTx(ctx, tx, j.DriverInfraID)
	if err != nil {
		return domain.Job{}, domain.InfraAccount{}, err
	}
	if driver.OwnerID != actorID {
		return domain.Job{}, domain.InfraAccount{}, fault.New(fault.AuthorizationMismatch, "only the owner of %s may act on this ride", driver.ID)
	}
	return j, driver, nil
}

// payOutDistribution pays every snapshotted share out of escrow, rounding
// each share down. Whatever flooring leaves behind is swept to the country
// treasury so the escrow always zeroes out.
func (e Engine) payOutDistribution(ctx context.Context, tx *sql.Tx, j domain.Job, alpha3, actorID string) (map[string]uint64, error) {
	key := domain.JobKey(j.DriverInfraID, j.Seq)
	escrow := domain.EscrowAccount(j.DriverInfraID, j.Seq)
	payouts := make(map[string]uint64, len(j.Distribution)+1)
	for _, d := range j.Distribution {
		amount := distribution.Payout(j.TotalFee, d.BasisPoints)
		if amount == 0 {
			continue
		}
		var to string
		if d.Provider == "platform" {
			to = domain.TreasuryAccount(alpha3)
		} else {
			provider, err := e.Repo.GetInfraTx(ctx, tx, d.Provider)
			if errors.Is(err, repo.ErrNotFound) {
				return nil, fault.With(fault.IntegrityFault,
					map[string]any{"provider": d.Provider},
					"distribution names unknown operator %s", d.Provider)
			}
			if err != nil {
				return nil, err
			}
			to = domain.OwnerAccount(provider.OwnerID)
		}
		if err := ledger.Transfer(ctx, tx, escrow, to, amount); err != nil {
			return nil, err
		}
		if err := e.Events.Transfer(ctx, tx, alpha3, "job", key, actorID, escrow, to, amount, "fee_share"); err != nil {
			return nil, err
		}
		payouts[to] += amount
	}
	treasury := domain.TreasuryAccount(alpha3)
	dust, err := ledger.Drain(ctx, tx, escrow, treasury)
	if err != nil {
		return nil, err
	}
	if dust > 0 {
		if err := e.Events.Transfer(ctx, tx, alpha3, "job", key, actorID, escrow, treasury, dust, "settlement_dust"); err != nil {
			return nil, err
		}
		payouts[treasury] += dust
	}
	return payouts, nil
}

// closeJob removes the job row and, when the ride had a driver attached,
// releases that driver's session so the driver can take the next ride.
func (e Engine) closeJob(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	if err := e.Repo.DeleteJobTx(ctx, tx, j.DriverInfraID, j.Seq); err != nil {
		return err
	}
	if j.DriverUUID == "" {
		return nil
	}
	s, err := e.Repo.GetSessionTx(ctx, tx, j.DriverUUID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.IsActive = true
	return e.Repo.UpdateSessionTx(ctx, tx, s)
}
