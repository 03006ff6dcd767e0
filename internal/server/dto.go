package server

import (
	"ridenet/internal/domain"
)

// Request payloads

type InitCountryRequest struct {
	Alpha3      string `json:"alpha3" minLength:"3" maxLength:"3"`
	AuthorityID string `json:"authority_id,omitempty"`
	ConfigYAML  string `json:"config_yaml,omitempty"`
}

type SetAuthorityRequest struct {
	AuthorityID string `json:"authority_id"`
}

type RegisterInfraRequest struct {
	Kind             string `json:"kind" enum:"driver,customer"`
	CountryCode      string `json:"country_code" minLength:"3" maxLength:"3"`
	FeeBasisPoints   uint16 `json:"fee_basis_points"`
	CompanyName      string `json:"company_name,omitempty"`
	EntityRegistryID string `json:"entity_registry_id,omitempty"`
	Website          string `json:"website,omitempty"`
	ExpectedSeq      uint64 `json:"expected_seq,omitempty"`
}

type SuspendInfraRequest struct {
	Reason string `json:"reason,omitempty"`
}

type SlashInfraRequest struct {
	Multiplier float64 `json:"multiplier" minimum:"0"`
	Reason     string  `json:"reason,omitempty"`
}

type SetBasisPointsRequest struct {
	BasisPoints uint16 `json:"basis_points"`
}

type UpdateCompanyRequest struct {
	CompanyName      string `json:"company_name"`
	EntityRegistryID string `json:"entity_registry_id,omitempty"`
	Website          string `json:"website,omitempty"`
}

type StartWorkRequest struct {
	DriverUUID      string             `json:"driver_uuid,omitempty"`
	InfraID         string             `json:"infra_id"`
	Location        domain.Coordinates `json:"location"`
	RSAPubkey       string             `json:"rsa_pem_pubkey,omitempty"`
	OfferedServices []uint64           `json:"offered_services,omitempty"`
	PassengerTypes  []uint64           `json:"passenger_types,omitempty"`
	Vehicle         string             `json:"vehicle,omitempty"`
	Seats           uint8              `json:"seats,omitempty"`
}

type UpdateLocationRequest struct {
	Location domain.Coordinates  `json:"location"`
	Next     *domain.Coordinates `json:"next,omitempty"`
}

type RequestRideRequest struct {
	CustomerInfraID    string             `json:"customer_infra_id"`
	DriverInfraID      string             `json:"driver_infra_id"`
	TotalFee           uint64             `json:"total_fee"`
	Pickup             domain.Coordinates `json:"pickup"`
	Drop               domain.Coordinates `json:"drop"`
	EncryptedData      string             `json:"encrypted_data,omitempty"`
	EncryptedSharedKey string             `json:"encrypted_shared_key,omitempty"`
}

type AcceptJobRequest struct {
	DriverUUID  string `json:"driver_uuid"`
	ExpectedFee uint64 `json:"expected_fee"`
}

type ResolveDisputeRequest struct {
	Winner string `json:"winner" enum:"driver,customer"`
}

type DepositRequest struct {
	Amount uint64 `json:"amount" minimum:"1"`
}

type TransferRequest struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount" minimum:"1"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type CountryResponse struct {
	Alpha3               string `json:"alpha3"`
	AuthorityID          string `json:"authority_id"`
	DriverInfraCounter   uint64 `json:"driver_infra_counter"`
	CustomerInfraCounter uint64 `json:"customer_infra_counter"`
	CreatedAt            string `json:"created_at" format:"date-time"`
	ConfigYAML           string `json:"config_yaml,omitempty"`
}

type InfraResponse struct {
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
	DepositBalance     uint64 `json:"deposit_balance"`
}

type DriverResponse struct {
	DriverUUID        string              `json:"driver_uuid"`
	InfraID           string              `json:"infra_id"`
	LastLocation      domain.Coordinates  `json:"last_location"`
	NextLocation      *domain.Coordinates `json:"next_location,omitempty"`
	LocationUpdatedAt int64               `json:"location_updated_at"`
	IsActive          bool                `json:"is_active"`
	Vehicle           string              `json:"vehicle,omitempty"`
	Seats             uint8               `json:"seats,omitempty"`
}

type JobResponse struct {
	DriverInfraID   string                `json:"driver_infra_id"`
	Seq             uint64                `json:"seq"`
	CustomerInfraID string                `json:"customer_infra_id"`
	DriverUUID      string                `json:"driver_uuid,omitempty"`
	Status          string                `json:"status" enum:"init,job_accepted,arrived,started,completed,cancelled_by_driver,cancelled_by_customer,dispute_by_driver,dispute_by_customer"`
	TotalFee        uint64                `json:"total_fee"`
	Distribution    []domain.Distribution `json:"distribution"`
	InitializedTime int64                 `json:"initialized_time"`
	StartTime       *int64                `json:"start_time,omitempty"`
	ArrivalTime     *int64                `json:"arrival_time,omitempty"`
	EndTime         *int64                `json:"end_time,omitempty"`
	EscrowBalance   uint64                `json:"escrow_balance"`
}

type SettlementResponse struct {
	Payouts map[string]uint64 `json:"payouts"`
}

type BalanceResponse struct {
	AccountID string `json:"account_id"`
	Balance   uint64 `json:"balance"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	Country    string `json:"country,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

func countryResponse(c domain.Country, configYAML string) CountryResponse {
	return CountryResponse{
		Alpha3:               c.Alpha3,
		AuthorityID:          c.AuthorityID,
		DriverInfraCounter:   c.DriverInfraCounter,
		CustomerInfraCounter: c.CustomerInfraCounter,
		CreatedAt:            c.CreatedAt,
		ConfigYAML:           configYAML,
	}
}

func infraResponse(a domain.InfraAccount, depositBalance uint64) InfraResponse {
	return InfraResponse{
		ID:                 a.ID,
		Kind:               a.Kind,
		CountryCode:        a.CountryCode,
		OwnerID:            a.OwnerID,
		Seq:                a.Seq,
		FeeBasisPoints:     a.FeeBasisPoints,
		IsVerified:         a.IsVerified,
		IsFrozen:           a.IsFrozen,
		MatchedRide:        a.MatchedRide,
		Cancellation:       a.Cancellation,
		DisputeCases:       a.DisputeCases,
		CasesLostInDispute: a.CasesLostInDispute,
		CompanyName:        a.CompanyName,
		EntityRegistryID:   a.EntityRegistryID,
		Website:            a.Website,
		CompanyRev:         a.CompanyRev,
		CreatedAt:          a.CreatedAt,
		DepositBalance:     depositBalance,
	}
}

func driverResponse(s domain.DriverSession) DriverResponse {
	return DriverResponse{
		DriverUUID:        s.DriverUUID,
		InfraID:           s.InfraID,
		LastLocation:      s.LastLocation,
		NextLocation:      s.NextLocation,
		LocationUpdatedAt: s.LocationUpdatedAt,
		IsActive:          s.IsActive,
		Vehicle:           s.Vehicle,
		Seats:             s.Seats,
	}
}

func jobResponse(j domain.Job, escrowBalance uint64) JobResponse {
	return JobResponse{
		DriverInfraID:   j.DriverInfraID,
		Seq:             j.Seq,
		CustomerInfraID: j.CustomerInfraID,
		DriverUUID:      j.DriverUUID,
		Status:          j.Status,
		TotalFee:        j.TotalFee,
		Distribution:    j.Distribution,
		InitializedTime: j.InitializedTime,
		StartTime:       j.StartTime,
		ArrivalTime:     j.ArrivalTime,
		EndTime:         j.EndTime,
		EscrowBalance:   escrowBalance,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		Country:    e.Country,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func mapInfras(items []domain.InfraAccount) []InfraResponse {
	res := make([]InfraResponse, 0, len(items))
	for _, a := range items {
		res = append(res, infraResponse(a, 0))
	}
	return res
}

func mapJobs(items []domain.Job) []JobResponse {
	res := make([]JobResponse, 0, len(items))
	for _, j := range items {
		res = append(res, jobResponse(j, 0))
	}
	return res
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}
