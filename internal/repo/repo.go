package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ridenet/internal/config"
	"ridenet/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier lets the same scan helpers serve both pooled and in-tx reads.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// --- countries ---

func (r Repo) InsertCountryTx(ctx context.Context, tx *sql.Tx, c domain.Country) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO countries(alpha3,authority_id,driver_infra_counter,customer_infra_counter,created_at) VALUES (?,?,?,?,?)`,
		c.Alpha3, c.AuthorityID, c.DriverInfraCounter, c.CustomerInfraCounter, c.CreatedAt)
	return err
}

func scanCountry(row *sql.Row) (domain.Country, error) {
	var c domain.Country
	err := row.Scan(&c.Alpha3, &c.AuthorityID, &c.DriverInfraCounter, &c.CustomerInfraCounter, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

const countryCols = `alpha3,authority_id,driver_infra_counter,customer_infra_counter,created_at`

func (r Repo) GetCountry(ctx context.Context, alpha3 string) (domain.Country, error) {
	return scanCountry(r.DB.QueryRowContext(ctx, `SELECT `+countryCols+` FROM countries WHERE alpha3=?`, alpha3))
}

func (r Repo) GetCountryTx(ctx context.Context, tx *sql.Tx, alpha3 string) (domain.Country, error) {
	return scanCountry(tx.QueryRowContext(ctx, `SELECT `+countryCols+` FROM countries WHERE alpha3=?`, alpha3))
}

func (r Repo) ListCountries(ctx context.Context) ([]domain.Country, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+countryCols+` FROM countries ORDER BY alpha3`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Country
	for rows.Next() {
		var c domain.Country
		if err := rows.Scan(&c.Alpha3, &c.AuthorityID, &c.DriverInfraCounter, &c.CustomerInfraCounter, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) SetCountryAuthorityTx(ctx context.Context, tx *sql.Tx, alpha3, authorityID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE countries SET authority_id=? WHERE alpha3=?`, authorityID, alpha3)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// BumpInfraCounterTx advances the country's monotonic registration counter for
// the given infra kind and returns the new value.
func (r Repo) BumpInfraCounterTx(ctx context.Context, tx *sql.Tx, alpha3, kind string) (uint64, error) {
	col := "driver_infra_counter"
	if kind == domain.InfraCustomer {
		col = "customer_infra_counter"
	}
	if _, err := tx.ExecContext(ctx, `UPDATE countries SET `+col+`=`+col+`+1 WHERE alpha3=?`, alpha3); err != nil {
		return 0, err
	}
	var n uint64
	err := tx.QueryRowContext(ctx, `SELECT `+col+` FROM countries WHERE alpha3=?`, alpha3).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return n, err
}

// --- country configs ---

func (r Repo) UpsertCountryConfig(ctx context.Context, alpha3 string, cfg *config.Country) error {
	return r.upsertCountryConfig(ctx, r.DB, alpha3, cfg)
}

func (r Repo) UpsertCountryConfigTx(ctx context.Context, tx *sql.Tx, alpha3 string, cfg *config.Country) error {
	return r.upsertCountryConfig(ctx, tx, alpha3, cfg)
}

func (r Repo) upsertCountryConfig(ctx context.Context, q querier, alpha3 string, cfg *config.Country) error {
	data, err := cfg.ToYAML()
	if err != nil {
		return fmt.Errorf("marshal country config: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = q.ExecContext(ctx, `INSERT INTO country_configs(alpha3,config_yaml,updated_at) VALUES (?,?,?)
ON CONFLICT(alpha3) DO UPDATE SET config_yaml=excluded.config_yaml, updated_at=excluded.updated_at`, alpha3, string(data), now)
	return err
}

func (r Repo) GetCountryConfig(ctx context.Context, alpha3 string) (*config.Country, error) {
	return r.getCountryConfig(ctx, r.DB, alpha3)
}

func (r Repo) GetCountryConfigTx(ctx context.Context, tx *sql.Tx, alpha3 string) (*config.Country, error) {
	return r.getCountryConfig(ctx, tx, alpha3)
}

func (r Repo) getCountryConfig(ctx context.Context, q querier, alpha3 string) (*config.Country, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT config_yaml FROM country_configs WHERE alpha3=?`, alpha3).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return config.FromYAML([]byte(raw))
}

// --- infra accounts ---

const infraCols = `id,kind,country_code,owner_id,seq,fee_basis_points,is_verified,is_frozen,matched_ride,cancellation,dispute_cases,cases_lost_in_dispute,COALESCE(company_name,''),COALESCE(entity_registry_id,''),COALESCE(website,''),company_rev,created_at`

func (r Repo) InsertInfraTx(ctx context.Context, tx *sql.Tx, a domain.InfraAccount) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO infra_accounts(id,kind,country_code,owner_id,seq,fee_basis_points,is_verified,is_frozen,matched_ride,cancellation,dispute_cases,cases_lost_in_dispute,company_name,entity_registry_id,website,company_rev,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Kind, a.CountryCode, a.OwnerID, a.Seq, a.FeeBasisPoints, a.IsVerified, a.IsFrozen,
		a.MatchedRide, a.Cancellation, a.DisputeCases, a.CasesLostInDispute,
		nullable(a.CompanyName), nullable(a.EntityRegistryID), nullable(a.Website), a.CompanyRev, a.CreatedAt)
	return err
}

func scanInfra(row *sql.Row) (domain.InfraAccount, error) {
	var a domain.InfraAccount
	err := row.Scan(&a.ID, &a.Kind, &a.CountryCode, &a.OwnerID, &a.Seq, &a.FeeBasisPoints,
		&a.IsVerified, &a.IsFrozen, &a.MatchedRide, &a.Cancellation, &a.DisputeCases,
		&a.CasesLostInDispute, &a.CompanyName, &a.EntityRegistryID, &a.Website, &a.CompanyRev, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) GetInfra(ctx context.Context, id string) (domain.InfraAccount, error) {
	return scanInfra(r.DB.QueryRowContext(ctx, `SELECT `+infraCols+` FROM infra_accounts WHERE id=?`, id))
}

func (r Repo) GetInfraTx(ctx context.Context, tx *sql.Tx, id string) (domain.InfraAccount, error) {
	return scanInfra(tx.QueryRowContext(ctx, `SELECT `+infraCols+` FROM infra_accounts WHERE id=?`, id))
}

func (r Repo) ListInfras(ctx context.Context, countryCode, kind string) ([]domain.InfraAccount, error) {
	query := `SELECT ` + infraCols + ` FROM infra_accounts`
	var (
		conds []string
		args  []any
	)
	if countryCode != "" {
		conds = append(conds, `country_code=?`)
		args = append(args, countryCode)
	}
	if kind != "" {
		conds = append(conds, `kind=?`)
		args = append(args, kind)
	}
	for i, c := range conds {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}
	query += ` ORDER BY country_code, kind, seq`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InfraAccount
	for rows.Next() {
		var a domain.InfraAccount
		if err := rows.Scan(&a.ID, &a.Kind, &a.CountryCode, &a.OwnerID, &a.Seq, &a.FeeBasisPoints,
			&a.IsVerified, &a.IsFrozen, &a.MatchedRide, &a.Cancellation, &a.DisputeCases,
			&a.CasesLostInDispute, &a.CompanyName, &a.EntityRegistryID, &a.Website, &a.CompanyRev, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) SetInfraVerifiedTx(ctx context.Context, tx *sql.Tx, id string, verified bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE infra_accounts SET is_verified=? WHERE id=?`, verified, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r Repo) SetInfraFrozenTx(ctx context.Context, tx *sql.Tx, id string, frozen bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE infra_accounts SET is_frozen=? WHERE id=?`, frozen, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r Repo) SetInfraBasisPointsTx(ctx context.Context, tx *sql.Tx, id string, bp uint16) error {
	res, err := tx.ExecContext(ctx, `UPDATE infra_accounts SET fee_basis_points=? WHERE id=?`, bp, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r Repo) UpdateInfraCompanyTx(ctx context.Context, tx *sql.Tx, id, name, registryID, website string, rev uint64) error {
	res, err := tx.ExecContext(ctx, `UPDATE infra_accounts SET company_name=?, entity_registry_id=?, website=?, company_rev=?, is_frozen=1 WHERE id=?`,
		nullable(name), nullable(registryID), nullable(website), rev, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// InfraCounter columns that may be incremented through BumpInfraStatTx.
const (
	InfraStatMatchedRide  = "matched_ride"
	InfraStatCancellation = "cancellation"
	InfraStatDisputes     = "dispute_cases"
	InfraStatCasesLost    = "cases_lost_in_dispute"
)

func (r Repo) BumpInfraStatTx(ctx context.Context, tx *sql.Tx, id, stat string) error {
	switch stat {
	case InfraStatMatchedRide, InfraStatCancellation, InfraStatDisputes, InfraStatCasesLost:
	default:
		return fmt.Errorf("unknown infra stat %q", stat)
	}
	res, err := tx.ExecContext(ctx, `UPDATE infra_accounts SET `+stat+`=`+stat+`+1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// --- jobs ---

const jobCols = `driver_infra_id,seq,customer_infra_id,driver_uuid,status,total_fee,distribution_json,initialized_time,start_time,arrival_time,end_time,encrypted_data,encrypted_shared_key`

func (r Repo) InsertJobTx(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	dist, err := json.Marshal(j.Distribution)
	if err != nil {
		return fmt.Errorf("marshal distribution: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO jobs(`+jobCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.DriverInfraID, j.Seq, j.CustomerInfraID, j.DriverUUID, j.Status, j.TotalFee, string(dist),
		j.InitializedTime, optInt(j.StartTime), optInt(j.ArrivalTime), optInt(j.EndTime),
		j.EncryptedData, j.EncryptedSharedKey)
	return err
}

func (r Repo) UpdateJobTx(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	dist, err := json.Marshal(j.Distribution)
	if err != nil {
		return fmt.Errorf("marshal distribution: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET driver_uuid=?, status=?, total_fee=?, distribution_json=?, start_time=?, arrival_time=?, end_time=? WHERE driver_infra_id=? AND seq=?`,
		j.DriverUUID, j.Status, j.TotalFee, string(dist), optInt(j.StartTime), optInt(j.ArrivalTime), optInt(j.EndTime),
		j.DriverInfraID, j.Seq)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r Repo) DeleteJobTx(ctx context.Context, tx *sql.Tx, driverInfraID string, seq uint64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE driver_infra_id=? AND seq=?`, driverInfraID, seq)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func scanJob(row *sql.Row) (domain.Job, error) {
	var (
		j                    domain.Job
		dist                 string
		start, arrival, end2 sql.NullInt64
	)
	err := row.Scan(&j.DriverInfraID, &j.Seq, &j.CustomerInfraID, &j.DriverUUID, &j.Status, &j.TotalFee,
		&dist, &j.InitializedTime, &start, &arrival, &end2, &j.EncryptedData, &j.EncryptedSharedKey)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	if err := json.Unmarshal([]byte(dist), &j.Distribution); err != nil {
		return j, fmt.Errorf("unmarshal distribution: %w", err)
	}
	j.StartTime = intPtr(start)
	j.ArrivalTime = intPtr(arrival)
	j.EndTime = intPtr(end2)
	return j, nil
}

func (r Repo) GetJob(ctx context.Context, driverInfraID string, seq uint64) (domain.Job, error) {
	return scanJob(r.DB.QueryRowContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE driver_infra_id=? AND seq=?`, driverInfraID, seq))
}

func (r Repo) GetJobTx(ctx context.Context, tx *sql.Tx, driverInfraID string, seq uint64) (domain.Job, error) {
	return scanJob(tx.QueryRowContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE driver_infra_id=? AND seq=?`, driverInfraID, seq))
}

func (r Repo) ListJobs(ctx context.Context, driverInfraID string) ([]domain.Job, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+jobCols+` FROM jobs WHERE driver_infra_id=? ORDER BY seq`, driverInfraID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		var (
			j                    domain.Job
			dist                 string
			start, arrival, end2 sql.NullInt64
		)
		if err := rows.Scan(&j.DriverInfraID, &j.Seq, &j.CustomerInfraID, &j.DriverUUID, &j.Status, &j.TotalFee,
			&dist, &j.InitializedTime, &start, &arrival, &end2, &j.EncryptedData, &j.EncryptedSharedKey); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(dist), &j.Distribution); err != nil {
			return nil, fmt.Errorf("unmarshal distribution: %w", err)
		}
		j.StartTime = intPtr(start)
		j.ArrivalTime = intPtr(arrival)
		j.EndTime = intPtr(end2)
		res = append(res, j)
	}
	return res, rows.Err()
}

// GetJobCounterTx reads the last assigned job sequence for a driver infra.
func (r Repo) GetJobCounterTx(ctx context.Context, tx *sql.Tx, driverInfraID string) (uint64, error) {
	var n uint64
	err := tx.QueryRowContext(ctx, `SELECT counter FROM job_counters WHERE driver_infra_id=?`, driverInfraID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

func (r Repo) SetJobCounterTx(ctx context.Context, tx *sql.Tx, driverInfraID string, counter uint64) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO job_counters(driver_infra_id,counter) VALUES (?,?)
ON CONFLICT(driver_infra_id) DO UPDATE SET counter=excluded.counter`, driverInfraID, counter)
	return err
}

// --- driver sessions ---

const sessionCols = `driver_uuid,infra_id,last_lat,last_long,next_lat,next_long,location_updated_at,is_active,rsa_pem_pubkey,offered_services_json,passenger_types_json,vehicle,seats`

func (r Repo) InsertSessionTx(ctx context.Context, tx *sql.Tx, s domain.DriverSession) error {
	services, types, err := marshalSessionLists(s)
	if err != nil {
		return err
	}
	var nextLat, nextLong any
	if s.NextLocation != nil {
		nextLat, nextLong = s.NextLocation.Lat, s.NextLocation.Long
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO driver_sessions(`+sessionCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.DriverUUID, s.InfraID, s.LastLocation.Lat, s.LastLocation.Long, nextLat, nextLong,
		s.LocationUpdatedAt, s.IsActive, s.RSAPubkey, services, types, s.Vehicle, s.Seats)
	return err
}

func (r Repo) UpdateSessionTx(ctx context.Context, tx *sql.Tx, s domain.DriverSession) error {
	var nextLat, nextLong any
	if s.NextLocation != nil {
		nextLat, nextLong = s.NextLocation.Lat, s.NextLocation.Long
	}
	res, err := tx.ExecContext(ctx, `UPDATE driver_sessions SET last_lat=?, last_long=?, next_lat=?, next_long=?, location_updated_at=?, is_active=? WHERE driver_uuid=?`,
		s.LastLocation.Lat, s.LastLocation.Long, nextLat, nextLong, s.LocationUpdatedAt, s.IsActive, s.DriverUUID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r Repo) DeleteSessionTx(ctx context.Context, tx *sql.Tx, driverUUID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM driver_sessions WHERE driver_uuid=?`, driverUUID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func scanSession(row *sql.Row) (domain.DriverSession, error) {
	var (
		s                 domain.DriverSession
		nextLat, nextLong sql.NullFloat64
		servicesJ, typesJ sql.NullString
	)
	err := row.Scan(&s.DriverUUID, &s.InfraID, &s.LastLocation.Lat, &s.LastLocation.Long,
		&nextLat, &nextLong, &s.LocationUpdatedAt, &s.IsActive, &s.RSAPubkey, &servicesJ, &typesJ, &s.Vehicle, &s.Seats)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if nextLat.Valid && nextLong.Valid {
		s.NextLocation = &domain.Coordinates{Lat: nextLat.Float64, Long: nextLong.Float64}
	}
	if servicesJ.Valid {
		if err := json.Unmarshal([]byte(servicesJ.String), &s.OfferedServices); err != nil {
			return s, fmt.Errorf("unmarshal offered services: %w", err)
		}
	}
	if typesJ.Valid {
		if err := json.Unmarshal([]byte(typesJ.String), &s.PassengerTypes); err != nil {
			return s, fmt.Errorf("unmarshal passenger types: %w", err)
		}
	}
	return s, nil
}

func (r Repo) GetSession(ctx context.Context, driverUUID string) (domain.DriverSession, error) {
	return scanSession(r.DB.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM driver_sessions WHERE driver_uuid=?`, driverUUID))
}

func (r Repo) GetSessionTx(ctx context.Context, tx *sql.Tx, driverUUID string) (domain.DriverSession, error) {
	return scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM driver_sessions WHERE driver_uuid=?`, driverUUID))
}

func marshalSessionLists(s domain.DriverSession) (any, any, error) {
	var services, types any
	if len(s.OfferedServices) > 0 {
		b, err := json.Marshal(s.OfferedServices)
		if err != nil {
			return nil, nil, err
		}
		services = string(b)
	}
	if len(s.PassengerTypes) > 0 {
		b, err := json.Marshal(s.PassengerTypes)
		if err != nil {
			return nil, nil, err
		}
		types = string(b)
	}
	return services, types, nil
}

// --- events ---

type EventFilters struct {
	Country    string
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
}

func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	query := `SELECT id,ts,type,COALESCE(country,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events`
	var (
		conds []string
		args  []any
	)
	if f.Country != "" {
		conds = append(conds, `country=?`)
		args = append(args, f.Country)
	}
	if f.Type != "" {
		conds = append(conds, `type=?`)
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		conds = append(conds, `entity_kind=?`)
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		conds = append(conds, `entity_id=?`)
		args = append(args, f.EntityID)
	}
	for i, c := range conds {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.Country, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns up to limit events with IDs strictly above afterID, in
// ascending order. Used by the webhook dispatcher's cursor.
func (r Repo) EventsAfter(ctx context.Context, limit int, afterID int64, country string) ([]domain.Event, error) {
	query := `SELECT id,ts,type,COALESCE(country,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>?`
	args := []any{afterID}
	if country != "" {
		query += ` AND country=?`
		args = append(args, country)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.Country, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context, country string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if country != "" {
		query += ` WHERE country=?`
		args = append(args, country)
	}
	var id int64
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id)
	return id, err
}

// --- helpers ---

func requireAffected(res sql.Result) error {
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func optInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
