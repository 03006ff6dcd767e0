package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ridenet/internal/config"
	"ridenet/internal/domain"
	"ridenet/internal/engine/fault"
	"ridenet/internal/events"
	"ridenet/internal/ledger"
	"ridenet/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) unix() int64 { return e.now().UTC().Unix() }

func (e Engine) rfc3339() string { return e.now().UTC().Format(time.RFC3339) }

// countryConfig loads the stored settlement parameters for a country inside
// the operation's transaction.
func (e Engine) countryConfig(ctx context.Context, tx *sql.Tx, alpha3 string) (*config.Country, error) {
	cfg, err := e.Repo.GetCountryConfigTx(ctx, tx, alpha3)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fault.New(fault.NotYetInitialized, "country %s is not initialized", alpha3)
	}
	return cfg, err
}

func validCoordinates(c domain.Coordinates) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Long >= -180 && c.Long <= 180
}

func ensureCoordinates(c domain.Coordinates) error {
	if !validCoordinates(c) {
		return fault.With(fault.InvalidCoordinate,
			map[string]any{"lat": c.Lat, "long": c.Long},
			"coordinates out of range: lat %v long %v", c.Lat, c.Long)
	}
	return nil
}

// --- countries ---

// InitOrUpdateCountry creates a country registry or, when it already exists,
// replaces its settlement parameters. Updates require the recorded authority.
func (e Engine) InitOrUpdateCountry(ctx context.Context, alpha3, authorityID string, cfg *config.Country, actorID string) (domain.Country, error) {
	if len(alpha3) != 3 {
		return domain.Country{}, fault.New(fault.StaleOrInvalidState, "country code must be 3 letters, got %q", alpha3)
	}
	if cfg == nil {
		cfg = config.Default(alpha3)
	}
	if cfg.Alpha3 != alpha3 {
		return domain.Country{}, fault.New(fault.StaleOrInvalidState, "config is for %s, not %s", cfg.Alpha3, alpha3)
	}
	if err := cfg.Validate(); err != nil {
		return domain.Country{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Country{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCountryTx(ctx, tx, alpha3)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		c = domain.Country{
			Alpha3:      alpha3,
			AuthorityID: authorityID,
			CreatedAt:   e.rfc3339(),
		}
		if c.AuthorityID == "" {
			c.AuthorityID = actorID
		}
		if err := e.Repo.InsertCountryTx(ctx, tx, c); err != nil {
			return domain.Country{}, fmt.Errorf("insert country: %w", err)
		}
		if err := e.Events.Append(ctx, tx, "country.init", alpha3, "country", alpha3, actorID, events.EventPayload{"authority_id": c.AuthorityID}); err != nil {
			return domain.Country{}, err
		}
	case err != nil:
		return domain.Country{}, err
	default:
		if c.AuthorityID != actorID {
			return domain.Country{}, fault.New(fault.AuthorizationMismatch, "only the authority of %s may update its parameters", alpha3)
		}
		if err := e.Events.Append(ctx, tx, "country.config.updated", alpha3, "country", alpha3, actorID, nil); err != nil {
			return domain.Country{}, err
		}
	}
	if err := e.Repo.UpsertCountryConfigTx(ctx, tx, alpha3, cfg); err != nil {
		return domain.Country{}, fmt.Errorf("store country config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Country{}, err
	}
	return c, nil
}

// SetCountryAuthority hands governance of a country to a new actor.
func (e Engine) SetCountryAuthority(ctx context.Context, alpha3, newAuthorityID, actorID string) error {
	if newAuthorityID == "" {
		return errors.New("new authority id is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCountryTx(ctx, tx, alpha3)
	if err != nil {
		return err
	}
	if c.AuthorityID != actorID {
		return fault.New(fault.AuthorizationMismatch, "only the authority of %s may hand over governance", alpha3)
	}
	if err := e.Repo.SetCountryAuthorityTx(ctx, tx, alpha3, newAuthorityID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "country.authority.changed", alpha3, "country", alpha3, actorID, events.EventPayload{
		"old_authority_id": c.AuthorityID,
		"new_authority_id": newAuthorityID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- ledger ---

// Deposit credits an actor's owner account. This is the funding entry point
// for every downstream escrow or security-deposit movement.
func (e Engine) Deposit(ctx context.Context, actorID string, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, errors.New("amount must be positive")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	account := domain.OwnerAccount(actorID)
	if err := ledger.Credit(ctx, tx, account, amount); err != nil {
		return 0, err
	}
	if err := e.Events.Transfer(ctx, tx, "", "ledger", account, actorID, "", account, amount, "deposit"); err != nil {
		return 0, err
	}
	balance, err := ledger.Balance(ctx, tx, account)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

// Balance reads the balance of any ledger account.
func (e Engine) Balance(ctx context.Context, accountID string) (uint64, error) {
	return ledger.Balance(ctx, e.DB, accountID)
}

// TransferFunds moves funds out of the actor's own owner account.
func (e Engine) TransferFunds(ctx context.Context, actorID, toAccount string, amount uint64) error {
	if toAccount == "" {
		return errors.New("destination account is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	from := domain.OwnerAccount(actorID)
	if err := ledger.Transfer(ctx, tx, from, toAccount, amount); err != nil {
		return err
	}
	if err := e.Events.Transfer(ctx, tx, "", "ledger", toAccount, actorID, from, toAccount, amount, "manual_transfer"); err != nil {
		return err
	}
	return tx.Commit()
}
