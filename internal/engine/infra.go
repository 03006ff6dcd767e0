package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"ridenet/internal/domain"
	"ridenet/internal/engine/fault"
	"ridenet/internal/events"
	"ridenet/internal/ledger"
	"ridenet/internal/repo"
)

// InfraRegisterOptions are parameters for registering a driver or customer
// operator in a country.
type InfraRegisterOptions struct {
	Kind             string
	CountryCode      string
	OwnerID          string
	FeeBasisPoints   uint16
	CompanyName      string
	EntityRegistryID string
	Website          string
	// ExpectedSeq guards against concurrent registrations. Zero skips the
	// check; otherwise registration fails unless the assigned sequence
	// matches.
	ExpectedSeq uint64
	ActorID     string
}

// RegisterInfra registers an operator, locking its security deposit from the
// owner's funds. New operators start unverified and frozen out of matching
// until the country authority approves them.
func (e Engine) RegisterInfra(ctx context.Context, opts InfraRegisterOptions) (domain.InfraAccount, error) {
	if opts.Kind != domain.InfraDriver && opts.Kind != domain.InfraCustomer {
		return domain.InfraAccount{}, fmt.Errorf("unknown infra kind %q", opts.Kind)
	}
	if opts.OwnerID == "" {
		return domain.InfraAccount{}, errors.New("owner id is required")
	}
	if opts.ActorID != opts.OwnerID {
		return domain.InfraAccount{}, fault.New(fault.AuthorizationMismatch, "registration must be signed by the owner")
	}
	if opts.FeeBasisPoints > domain.FullShareBasisPoints {
		return domain.InfraAccount{}, fault.New(fault.RateMismatch, "fee basis points %d exceed %d", opts.FeeBasisPoints, domain.FullShareBasisPoints)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.InfraAccount{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetCountryTx(ctx, tx, opts.CountryCode); errors.Is(err, repo.ErrNotFound) {
		return domain.InfraAccount{}, fault.New(fault.NotYetInitialized, "country %s is not initialized", opts.CountryCode)
	} else if err != nil {
		return domain.InfraAccount{}, err
	}
	cfg, err := e.countryConfig(ctx, tx, opts.CountryCode)
	if err != nil {
		return domain.InfraAccount{}, err
	}

	seq, err := e.Repo.BumpInfraCounterTx(ctx, tx, opts.CountryCode, opts.Kind)
	if err != nil {
		return domain.InfraAccount{}, err
	}
	if opts.ExpectedSeq != 0 && opts.ExpectedSeq != seq {
		return domain.InfraAccount{}, fault.With(fault.StaleOrInvalidState,
			map[string]any{"expected_seq": opts.ExpectedSeq, "assigned_seq": seq},
			"registration raced: expected sequence %d, registry is at %d", opts.ExpectedSeq, seq)
	}

	a := domain.InfraAccount{
		ID:               fmt.Sprintf("%s-%s-%d", opts.CountryCode, opts.Kind, seq),
		Kind:             opts.Kind,
		CountryCode:      opts.CountryCode,
		OwnerID:          opts.OwnerID,
		Seq:              seq,
		FeeBasisPoints:   opts.FeeBasisPoints,
		CompanyName:      opts.CompanyName,
		EntityRegistryID: opts.EntityRegistryID,
		Website:          opts.Website,
		CompanyRev:       1,
		CreatedAt:        e.rfc3339(),
	}

	minDeposit := cfg.Deposits.MinDriverInfra
	if opts.Kind == domain.InfraCustomer {
		minDeposit = cfg.Deposits.MinCustomerInfra
	}
	ownerAcct := domain.OwnerAccount(opts.OwnerID)
	depositAcct := domain.DepositAccount(a.ID)
	if err := ledger.Transfer(ctx, tx, ownerAcct, depositAcct, minDeposit); err != nil {
		return domain.InfraAccount{}, err
	}
	if err := e.Events.Transfer(ctx, tx, a.CountryCode, "infra", a.ID, opts.ActorID, ownerAcct, depositAcct, minDeposit, "security_deposit"); err != nil {
		return domain.InfraAccount{}, err
	}

	if err := e.Repo.InsertInfraTx(ctx, tx, a); err != nil {
		return domain.InfraAccount{}, fmt.Errorf("insert infra: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "infra.registered", a.CountryCode, "infra", a.ID, opts.ActorID, events.EventPayload{
		"kind":             a.Kind,
		"seq":              a.Seq,
		"fee_basis_points": a.FeeBasisPoints,
	}); err != nil {
		return domain.InfraAccount{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.InfraAccount{}, err
	}
	return a, nil
}

// requireAuthorityOverInfra loads an infra and checks the acting party is the
// authority of its country.
func (e Engine) requireAuthorityOverInfra(ctx context.Context, tx *sql.Tx, infraID, actorID string) (domain.InfraAccount, error) {
	a, err := e.Repo.GetInfraTx(ctx, tx, infraID)
	if err != nil {
		return a, err
	}
	c, err := e.Repo.GetCountryTx(ctx, tx, a.CountryCode)
	if err != nil {
		return a, err
	}
	if c.AuthorityID != actorID {
		return a, fault.New(fault.AuthorizationMismatch, "only the authority of %s may govern %s", a.CountryCode, infraID)
	}
	return a, nil
}

// ApproveInfra marks an operator as verified so it can participate in rides.
func (e Engine) ApproveInfra(ctx context.Context, infraID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	a, err := e.requireAuthorityOverInfra(ctx, tx, infraID, actorID)
	if err != nil {
		return err
	}
	if a.IsVerified && !a.IsFrozen {
		return fault.New(fault.StaleOrInvalidState, "%s is already approved", infraID)
	}
	if err := e.Repo.SetInfraVerifiedTx(ctx, tx, infraID, true); err != nil {
		return err
	}
	if err := e.Repo.SetInfraFrozenTx(ctx, tx, infraID, false); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "infra.approved", a.CountryCode, "infra", infraID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// SuspendInfra freezes an operator out of new activity. In-flight jobs keep
// their snapshotted shares and settle normally.
func (e Engine) SuspendInfra(ctx context.Context, infraID, reason, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	a, err := e.requireAuthorityOverInfra(ctx, tx, infraID, actorID)
	if err != nil {
		return err
	}
	if a.IsFrozen {
		return fault.New(fault.StaleOrInvalidState, "%s is already suspended", infraID)
	}
	if err := e.Repo.SetInfraFrozenTx(ctx, tx, infraID, true); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "infra.suspended", a.CountryCode, "infra", infraID, actorID, events.EventPayload{"reason": reason}); err != nil {
		return err
	}
	return tx.Commit()
}

// ReinstateInfra lifts a suspension.
func (e Engine) ReinstateInfra(ctx context.Context, infraID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	a, err := e.requireAuthorityOverInfra(ctx, tx, infraID, actorID)
	if err != nil {
		return err
	}
	if !a.IsFrozen {
		return fault.New(fault.StaleOrInvalidState, "%s is not suspended", infraID)
	}
	if err := e.Repo.SetInfraFrozenTx(ctx, tx, infraID, false); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "infra.reinstated", a.CountryCode, "infra", infraID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// SlashInfra moves a penalty from an operator's security deposit to the
// country treasury. The amount is the country's base slash amount scaled by
// the multiplier and rounded to the nearest unit.
func (e Engine) SlashInfra(ctx context.Context, infraID string, multiplier float64, reason, actorID string) (uint64, error) {
	if multiplier <= 0 {
		return 0, errors.New("multiplier must be positive")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	a, err := e.requireAuthorityOverInfra(ctx, tx, infraID, actorID)
	if err != nil {
		return 0, err
	}
	cfg, err := e.countryConfig(ctx, tx, a.CountryCode)
	if err != nil {
		return 0, err
	}
	amount := uint64(math.Round(float64(cfg.Deposits.BaseSlashAmount) * multiplier))
	from := domain.DepositAccount(infraID)
	to := domain.TreasuryAccount(a.CountryCode)
	if err := ledger.Transfer(ctx, tx, from, to, amount); err != nil {
		return 0, err
	}
	if err := e.Events.Transfer(ctx, tx, a.CountryCode, "infra", infraID, actorID, from, to, amount, "slash:"+reason); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return amount, nil
}

// SetInfraBasisPoint changes an operator's fee share for future rides. Rides
// already requested keep the shares snapshotted at request time.
func (e Engine) SetInfraBasisPoint(ctx context.Context, infraID string, bp uint16, actorID string) error {
	if bp > domain.FullShareBasisPoints {
		return fault.New(fault.RateMismatch, "fee basis points %d exceed %d", bp, domain.FullShareBasisPoints)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetInfraTx(ctx, tx, infraID)
	if err != nil {
		return err
	}
	if a.OwnerID != actorID {
		return fault.New(fault.AuthorizationMismatch, "only the owner of %s may change its fee share", infraID)
	}
	if a.IsFrozen {
		return fault.New(fault.FrozenAccount, "%s is frozen", infraID)
	}
	if err := e.Repo.SetInfraBasisPointsTx(ctx, tx, infraID, bp); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "infra.basis_points.updated", a.CountryCode, "infra", infraID, actorID, events.EventPayload{
		"old_basis_points": a.FeeBasisPoints,
		"new_basis_points": bp,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateInfraCompany replaces the registered company details. The change
// bumps the revision and freezes the operator until the authority reviews the
// new details and re-approves.
func (e Engine) UpdateInfraCompany(ctx context.Context, infraID, name, registryID, website, actorID string) (domain.InfraAccount, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.InfraAccount{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetInfraTx(ctx, tx, infraID)
	if err != nil {
		return domain.InfraAccount{}, err
	}
	if a.OwnerID != actorID {
		return domain.InfraAccount{}, fault.New(fault.AuthorizationMismatch, "only the owner of %s may update its company details", infraID)
	}
	a.CompanyName = name
	a.EntityRegistryID = registryID
	a.Website = website
	a.CompanyRev++
	a.IsFrozen = true
	if err := e.Repo.UpdateInfraCompanyTx(ctx, tx, infraID, name, registryID, website, a.CompanyRev); err != nil {
		return domain.InfraAccount{}, err
	}
	if err := e.Events.Append(ctx, tx, "infra.company.updated", a.CountryCode, "infra", infraID, actorID, events.EventPayload{
		"company_rev": a.CompanyRev,
	}); err != nil {
		return domain.InfraAccount{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.InfraAccount{}, err
	}
	return a, nil
}
