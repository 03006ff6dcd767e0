package domain

import "strconv"

// Job statuses. Terminal settlement deletes the job row, so the cancelled
// statuses are only ever observed transiently inside a transaction.
const (
	StatusInit                = "init"
	StatusJobAccepted         = "job_accepted"
	StatusArrived             = "arrived"
	StatusStarted             = "started"
	StatusCompleted           = "completed"
	StatusCancelledByDriver   = "cancelled_by_driver"
	StatusCancelledByCustomer = "cancelled_by_customer"
	StatusDisputeByDriver     = "dispute_by_driver"
	StatusDisputeByCustomer   = "dispute_by_customer"
)

// Infra kinds.
const (
	InfraDriver   = "driver"
	InfraCustomer = "customer"
)

// FullShareBasisPoints is 100% expressed in basis points.
const FullShareBasisPoints = 10_000

type Coordinates struct {
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

// Distribution is one payout share, fixed at ride-request time.
type Distribution struct {
	Provider    string `json:"provider"`
	BasisPoints uint16 `json:"basis_points"`
}

// Job is one ride transaction, keyed by (driver infra, sequence).
type Job struct {
	DriverInfraID      string         `json:"driver_infra_id"`
	Seq                uint64         `json:"seq"`
	CustomerInfraID    string         `json:"customer_infra_id"`
	DriverUUID         string         `json:"driver_uuid"`
	Status             string         `json:"status" enum:"init,job_accepted,arrived,started,completed,cancelled_by_driver,cancelled_by_customer,dispute_by_driver,dispute_by_customer"`
	TotalFee           uint64         `json:"total_fee"`
	Distribution       []Distribution `json:"distribution"`
	InitializedTime    int64          `json:"initialized_time"`
	StartTime          *int64         `json:"start_time,omitempty"`
	ArrivalTime        *int64         `json:"arrival_time,omitempty"`
	EndTime            *int64         `json:"end_time,omitempty"`
	EncryptedData      string         `json:"encrypted_data,omitempty"`
	EncryptedSharedKey string         `json:"encrypted_shared_key,omitempty"`
}

// DriverSession is a driver's live operating record, keyed by driver UUID.
type DriverSession struct {
	DriverUUID        string       `json:"driver_uuid"`
	InfraID           string       `json:"infra_id"`
	LastLocation      Coordinates  `json:"last_location"`
	NextLocation      *Coordinates `json:"next_location,omitempty"`
	LocationUpdatedAt int64        `json:"location_updated_at"`
	IsActive          bool         `json:"is_active"`
	RSAPubkey         string       `json:"rsa_pem_pubkey,omitempty"`
	OfferedServices   []uint64     `json:"offered_services,omitempty"`
	PassengerTypes    []uint64     `json:"passenger_types,omitempty"`
	Vehicle           string       `json:"vehicle,omitempty"`
	Seats             uint8        `json:"seats,omitempty"`
}

// InfraAccount is an operator registration (driver-infra or customer-infra).
type InfraAccount struct {
	ID                 string `json:"id"`
	Kind               string `json:"kind" enum:"driver,customer"`
	CountryCode        string `json:"country_code"`
	OwnerID            string `json:"owner_id"`
	Seq                uint64 `json:"seq"`
	FeeBasisPoints     uint16 `json:"fee_basis_points"`
	IsVerified         bool   `json:"is_verified"`
	IsFrozen           bool   `json:"is_frozen"`
	MatchedRide        uint64 `json:"matched_ride"`
	Cancellation       uint64 `json:"cancellation"`
	DisputeCases       uint64 `json:"dispute_cases"`
	CasesLostInDispute uint64 `json:"cases_lost_in_dispute"`
	CompanyName        string `json:"company_name,omitempty"`
	EntityRegistryID   string `json:"entity_registry_id,omitempty"`
	Website            string `json:"website,omitempty"`
	CompanyRev         uint64 `json:"company_rev"`
	CreatedAt          string `json:"created_at" format:"date-time"`
}

// Country holds the per-country registration counters and the identity of the
// governance authority. Settlement parameters live in config.Country.
type Country struct {
	Alpha3               string `json:"alpha3"`
	AuthorityID          string `json:"authority_id"`
	DriverInfraCounter   uint64 `json:"driver_infra_counter"`
	CustomerInfraCounter uint64 `json:"customer_infra_counter"`
	CreatedAt            string `json:"created_at" format:"date-time"`
}

// LedgerAccount is a fungible balance bucket.
type LedgerAccount struct {
	ID      string `json:"id"`
	Balance uint64 `json:"balance"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	Country    string `json:"country,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// JobKey renders the composite job key used for escrow account naming and
// journal entity ids.
func JobKey(driverInfraID string, seq uint64) string {
	return driverInfraID + "/" + strconv.FormatUint(seq, 10)
}

// Ledger account ids live in one flat namespace with typed prefixes.
func OwnerAccount(actorID string) string   { return "owner:" + actorID }
func DepositAccount(infraID string) string { return "deposit:" + infraID }
func EscrowAccount(driverInfraID string, seq uint64) string {
	return "escrow:" + JobKey(driverInfraID, seq)
}
func TreasuryAccount(alpha3 string) string { return "treasury:" + alpha3 }
