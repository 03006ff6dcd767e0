package engine

import (
	"context"
	"errors"

	"ridenet/internal/domain"
	"ridenet/internal/engine/fault"
	"ridenet/internal/events"
	"ridenet/internal/repo"
)

// StartWorkOptions are parameters for opening a driver session.
type StartWorkOptions struct {
	DriverUUID      string
	InfraID         string
	Location        domain.Coordinates
	RSAPubkey       string
	OfferedServices []uint64
	PassengerTypes  []uint64
	Vehicle         string
	Seats           uint8
	ActorID         string
}

// StartWork opens a live session for a driver under a verified operator.
func (e Engine) StartWork(ctx context.Context, opts StartWorkOptions) (domain.DriverSession, error) {
	if opts.DriverUUID == "" {
		return domain.DriverSession{}, errors.New("driver uuid is required")
	}
	if err := ensureCoordinates(opts.Location); err != nil {
		return domain.DriverSession{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DriverSession{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetInfraTx(ctx, tx, opts.InfraID)
	if err != nil {
		return domain.DriverSession{}, err
	}
	if a.OwnerID != opts.ActorID {
		return domain.DriverSession{}, fault.New(fault.AuthorizationMismatch, "only the owner of %s may register its drivers", opts.InfraID)
	}
	if a.Kind != domain.InfraDriver {
		return domain.DriverSession{}, fault.New(fault.StaleOrInvalidState, "%s is not a driver operator", opts.InfraID)
	}
	if !a.IsVerified {
		return domain.DriverSession{}, fault.New(fault.StaleOrInvalidState, "%s is not approved yet", opts.InfraID)
	}
	if a.IsFrozen {
		return domain.DriverSession{}, fault.New(fault.FrozenAccount, "%s is frozen", opts.InfraID)
	}
	if _, err := e.Repo.GetSessionTx(ctx, tx, opts.DriverUUID); err == nil {
		return domain.DriverSession{}, fault.New(fault.AlreadyInitialized, "driver %s already has an open session", opts.DriverUUID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.DriverSession{}, err
	}

	s := domain.DriverSession{
		DriverUUID:        opts.DriverUUID,
		InfraID:           opts.InfraID,
		LastLocation:      opts.Location,
		LocationUpdatedAt: e.unix(),
		IsActive:          true,
		RSAPubkey:         opts.RSAPubkey,
		OfferedServices:   opts.OfferedServices,
		PassengerTypes:    opts.PassengerTypes,
		Vehicle:           opts.Vehicle,
		Seats:             opts.Seats,
	}
	if err := e.Repo.InsertSessionTx(ctx, tx, s); err != nil {
		return domain.DriverSession{}, err
	}
	if err := e.Events.Append(ctx, tx, "driver.started", a.CountryCode, "driver", opts.DriverUUID, opts.ActorID, events.EventPayload{
		"infra_id": opts.InfraID,
	}); err != nil {
		return domain.DriverSession{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DriverSession{}, err
	}
	return s, nil
}

// UpdateLocation refreshes a driver's position and optional heading.
func (e Engine) UpdateLocation(ctx context.Context, driverUUID string, loc domain.Coordinates, next *domain.Coordinates, actorID string) error {
	if err := ensureCoordinates(loc); err != nil {
		return err
	}
	if next != nil {
		if err := ensureCoordinates(*next); err != nil {
			return err
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSessionTx(ctx, tx, driverUUID)
	if err != nil {
		return err
	}
	a, err := e.Repo.GetInfraTx(ctx, tx, s.InfraID)
	if err != nil {
		return err
	}
	if a.OwnerID != actorID {
		return fault.New(fault.AuthorizationMismatch, "driver %s belongs to another operator", driverUUID)
	}
	s.LastLocation = loc
	s.NextLocation = next
	s.LocationUpdatedAt = e.unix()
	if err := e.Repo.UpdateSessionTx(ctx, tx, s); err != nil {
		return err
	}
	return tx.Commit()
}

// EndWork closes a driver session. A driver with a ride in flight cannot
// leave until it settles or cancels.
func (e Engine) EndWork(ctx context.Context, driverUUID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSessionTx(ctx, tx, driverUUID)
	if err != nil {
		return err
	}
	a, err := e.Repo.GetInfraTx(ctx, tx, s.InfraID)
	if err != nil {
		return err
	}
	if a.OwnerID != actorID {
		return fault.New(fault.AuthorizationMismatch, "driver %s belongs to another operator", driverUUID)
	}
	var open int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE driver_uuid=?`, driverUUID).Scan(&open); err != nil {
		return err
	}
	if open > 0 {
		return fault.New(fault.StaleOrInvalidState, "driver %s still has %d ride(s) in flight", driverUUID, open)
	}
	if err := e.Repo.DeleteSessionTx(ctx, tx, driverUUID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "driver.ended", a.CountryCode, "driver", driverUUID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
