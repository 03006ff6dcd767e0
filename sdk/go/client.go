package ridenetsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal RideNet HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Coordinates is a lat/long pair.
type Coordinates struct {
	Lat  float64 `json:"lat"`
	Long float64 `json:"long"`
}

// Country represents the API country model.
type Country struct {
	Alpha3               string `json:"alpha3"`
	AuthorityID          string `json:"authority_id"`
	DriverInfraCounter   uint64 `json:"driver_infra_counter"`
	CustomerInfraCounter uint64 `json:"customer_infra_counter"`
	CreatedAt            string `json:"created_at"`
	ConfigYAML           string `json:"config_yaml,omitempty"`
}

// Infra represents a registered operator (partial).
type Infra struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	CountryCode    string `json:"country_code"`
	OwnerID        string `json:"owner_id"`
	FeeBasisPoints uint16 `json:"fee_basis_points"`
	IsVerified     bool   `json:"is_verified"`
	IsFrozen       bool   `json:"is_frozen"`
	DepositBalance uint64 `json:"deposit_balance"`
}

// Driver represents a driver session.
type Driver struct {
	DriverUUID   string       `json:"driver_uuid"`
	InfraID      string       `json:"infra_id"`
	LastLocation Coordinates  `json:"last_location"`
	NextLocation *Coordinates `json:"next_location,omitempty"`
	IsActive     bool         `json:"is_active"`
	Vehicle      string       `json:"vehicle,omitempty"`
	Seats        uint8        `json:"seats,omitempty"`
}

// Job represents a ride.
type Job struct {
	DriverInfraID   string `json:"driver_infra_id"`
	Seq             uint64 `json:"seq"`
	CustomerInfraID string `json:"customer_infra_id"`
	DriverUUID      string `json:"driver_uuid,omitempty"`
	Status          string `json:"status"`
	TotalFee        uint64 `json:"total_fee"`
	InitializedTime int64  `json:"initialized_time"`
	StartTime       *int64 `json:"start_time,omitempty"`
	ArrivalTime     *int64 `json:"arrival_time,omitempty"`
	EndTime         *int64 `json:"end_time,omitempty"`
	EscrowBalance   uint64 `json:"escrow_balance"`
}

// Settlement holds per-account payouts.
type Settlement struct {
	Payouts map[string]uint64 `json:"payouts"`
}

// Balance is a ledger account reading.
type Balance struct {
	AccountID string `json:"account_id"`
	Balance   uint64 `json:"balance"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	Country    string `json:"country,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// InitCountry creates or updates a country.
func (c *Client) InitCountry(ctx context.Context, alpha3, authorityID, configYAML string) (Country, error) {
	body := map[string]any{
		"alpha3":       alpha3,
		"authority_id": authorityID,
		"config_yaml":  configYAML,
	}
	var resp Country
	err := c.do(ctx, http.MethodPost, "countries", body, &resp)
	return resp, err
}

// GetCountry fetches a country with its parameters.
func (c *Client) GetCountry(ctx context.Context, alpha3 string) (Country, error) {
	var resp Country
	err := c.do(ctx, http.MethodGet, "countries/"+url.PathEscape(alpha3), nil, &resp)
	return resp, err
}

// RegisterInfraOptions carries the registration fields.
type RegisterInfraOptions struct {
	Kind             string `json:"kind"`
	CountryCode      string `json:"country_code"`
	FeeBasisPoints   uint16 `json:"fee_basis_points"`
	CompanyName      string `json:"company_name,omitempty"`
	EntityRegistryID string `json:"entity_registry_id,omitempty"`
	Website          string `json:"website,omitempty"`
	ExpectedSeq      uint64 `json:"expected_seq,omitempty"`
}

// RegisterInfra registers an operator owned by the caller.
func (c *Client) RegisterInfra(ctx context.Context, opts RegisterInfraOptions) (Infra, error) {
	var resp Infra
	err := c.do(ctx, http.MethodPost, "infras", opts, &resp)
	return resp, err
}

// GetInfra fetches an operator.
func (c *Client) GetInfra(ctx context.Context, infraID string) (Infra, error) {
	var resp Infra
	err := c.do(ctx, http.MethodGet, "infras/"+url.PathEscape(infraID), nil, &resp)
	return resp, err
}

// ListInfras lists operators, optionally filtered by country and kind.
func (c *Client) ListInfras(ctx context.Context, country, kind string) ([]Infra, error) {
	q := url.Values{}
	if country != "" {
		q.Set("country", country)
	}
	if kind != "" {
		q.Set("kind", kind)
	}
	endpoint := "infras"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Infra
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// StartDriver opens a driver session.
func (c *Client) StartDriver(ctx context.Context, infraID string, location Coordinates, vehicle string, seats uint8) (Driver, error) {
	body := map[string]any{
		"infra_id": infraID,
		"location": location,
		"vehicle":  vehicle,
		"seats":    seats,
	}
	var resp Driver
	err := c.do(ctx, http.MethodPost, "drivers", body, &resp)
	return resp, err
}

// UpdateDriverLocation reports a driver's position and optional heading.
func (c *Client) UpdateDriverLocation(ctx context.Context, driverUUID string, loc Coordinates, next *Coordinates) error {
	body := map[string]any{"location": loc}
	if next != nil {
		body["next"] = next
	}
	endpoint := fmt.Sprintf("drivers/%s/location", url.PathEscape(driverUUID))
	return c.do(ctx, http.MethodPut, endpoint, body, nil)
}

// GetDriver fetches a driver session.
func (c *Client) GetDriver(ctx context.Context, driverUUID string) (Driver, error) {
	var resp Driver
	err := c.do(ctx, http.MethodGet, "drivers/"+url.PathEscape(driverUUID), nil, &resp)
	return resp, err
}

// EndDriver closes a driver session.
func (c *Client) EndDriver(ctx context.Context, driverUUID string) error {
	return c.do(ctx, http.MethodDelete, "drivers/"+url.PathEscape(driverUUID), nil, nil)
}

// RequestRideOptions carries the ride request fields.
type RequestRideOptions struct {
	CustomerInfraID    string      `json:"customer_infra_id"`
	DriverInfraID      string      `json:"driver_infra_id"`
	TotalFee           uint64      `json:"total_fee"`
	Pickup             Coordinates `json:"pickup"`
	Drop               Coordinates `json:"drop"`
	EncryptedData      string      `json:"encrypted_data,omitempty"`
	EncryptedSharedKey string      `json:"encrypted_shared_key,omitempty"`
}

// RequestRide escrows the fee and opens a ride.
func (c *Client) RequestRide(ctx context.Context, opts RequestRideOptions) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, "jobs", opts, &resp)
	return resp, err
}

// GetJob fetches a ride.
func (c *Client) GetJob(ctx context.Context, driverInfraID string, seq uint64) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodGet, c.jobPath(driverInfraID, seq, ""), nil, &resp)
	return resp, err
}

// AcceptJob matches a driver to a ride. The expected fee must equal the
// escrowed fee.
func (c *Client) AcceptJob(ctx context.Context, driverInfraID string, seq uint64, driverUUID string, expectedFee uint64) (Job, error) {
	body := map[string]any{
		"driver_uuid":  driverUUID,
		"expected_fee": expectedFee,
	}
	var resp Job
	err := c.do(ctx, http.MethodPost, c.jobPath(driverInfraID, seq, "accept"), body, &resp)
	return resp, err
}

// ArriveAtPickup marks arrival at the pickup point.
func (c *Client) ArriveAtPickup(ctx context.Context, driverInfraID string, seq uint64) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, c.jobPath(driverInfraID, seq, "arrive"), nil, &resp)
	return resp, err
}

// PickupRider starts the ride.
func (c *Client) PickupRider(ctx context.Context, driverInfraID string, seq uint64) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, c.jobPath(driverInfraID, seq, "pickup"), nil, &resp)
	return resp, err
}

// CompleteJob finishes the ride.
func (c *Client) CompleteJob(ctx context.Context, driverInfraID string, seq uint64) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, c.jobPath(driverInfraID, seq, "complete"), nil, &resp)
	return resp, err
}

// SettleJob pays out a completed ride once the finalize window has passed.
func (c *Client) SettleJob(ctx context.Context, driverInfraID string, seq uint64) (Settlement, error) {
	var resp Settlement
	err := c.do(ctx, http.MethodPost, c.jobPath(driverInfraID, seq, "settle"), nil, &resp)
	return resp, err
}

// CancelAsDriver cancels from the driver side.
func (c *Client) CancelAsDriver(ctx context.Context, driverInfraID string, seq uint64) error {
	return c.do(ctx, http.MethodPost, c.jobPath(driverInfraID, seq, "cancel-driver"), nil, nil)
}

// CancelAsRider cancels from the customer side.
func (c *Client) CancelAsRider(ctx context.Context, driverInfraID string, seq uint64) error {
	return c.do(ctx, http.MethodPost, c.jobPath(driverInfraID, seq, "cancel-rider"), nil, nil)
}

// RaiseDispute freezes the ride pending authority resolution.
func (c *Client) RaiseDispute(ctx context.Context, driverInfraID string, seq uint64) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, c.jobPath(driverInfraID, seq, "dispute"), nil, &resp)
	return resp, err
}

// ResolveDispute settles a disputed ride for the given winner ("driver" or
// "customer").
func (c *Client) ResolveDispute(ctx context.Context, driverInfraID string, seq uint64, winner string) (Settlement, error) {
	body := map[string]any{"winner": winner}
	var resp Settlement
	err := c.do(ctx, http.MethodPost, c.jobPath(driverInfraID, seq, "resolve"), body, &resp)
	return resp, err
}

// Deposit credits the caller's owner account.
func (c *Client) Deposit(ctx context.Context, amount uint64) (Balance, error) {
	var resp Balance
	err := c.do(ctx, http.MethodPost, "ledger/deposit", map[string]any{"amount": amount}, &resp)
	return resp, err
}

// GetBalance reads an account balance.
func (c *Client) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	var resp Balance
	err := c.do(ctx, http.MethodGet, "ledger/balance?account="+url.QueryEscape(accountID), nil, &resp)
	return resp, err
}

// Transfer moves funds from the caller's owner account.
func (c *Client) Transfer(ctx context.Context, to string, amount uint64) error {
	body := map[string]any{"to": to, "amount": amount}
	return c.do(ctx, http.MethodPost, "ledger/transfer", body, nil)
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("events?limit=%d", limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) jobPath(driverInfraID string, seq uint64, action string) string {
	p := fmt.Sprintf("jobs/%s/%d", url.PathEscape(driverInfraID), seq)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
