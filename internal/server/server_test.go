package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"ridenet/internal/db"
	"ridenet/internal/domain"
	"ridenet/internal/engine"
	"ridenet/internal/migrate"
	"ridenet/internal/repo"
)

const (
	testAuthority     = "gov"
	testDriverOwner   = "acme"
	testCustomerOwner = "ridely"
	testDriverInfra   = "FRA-driver-1"
	testCustomerInfra = "FRA-customer-1"
	testDriverUUID    = "drv-1"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
	now    time.Time
}

func (s *testServer) Client() *http.Client   { return s.client }
func (s *testServer) Close()                 { s.close() }
func (s *testServer) advance(d time.Duration) { s.now = s.now.Add(d) }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ts := &testServer{
		client: &http.Client{},
		now:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	e := engine.New(conn)
	e.Now = func() time.Time { return ts.now }
	e.Events.Now = e.Now
	ts.Engine = e

	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
			EnableDevLogin:         true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts.URL = "http://" + ln.Addr().String()
	ts.close = func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	}
	return ts, func() { ts.Close() }
}

// seedMarket prepares an approved operator on each side and a working driver.
func seedMarket(t *testing.T, ts *testServer) {
	t.Helper()
	e := ts.Engine
	ctx := context.Background()
	if _, err := e.InitOrUpdateCountry(ctx, "FRA", testAuthority, nil, testAuthority); err != nil {
		t.Fatalf("init country: %v", err)
	}
	for _, owner := range []string{testDriverOwner, testCustomerOwner} {
		if _, err := e.Deposit(ctx, owner, 500_000); err != nil {
			t.Fatalf("fund %s: %v", owner, err)
		}
	}
	if _, err := e.RegisterInfra(ctx, engine.InfraRegisterOptions{
		Kind: domain.InfraDriver, CountryCode: "FRA", OwnerID: testDriverOwner,
		FeeBasisPoints: 7000, ActorID: testDriverOwner,
	}); err != nil {
		t.Fatalf("register driver infra: %v", err)
	}
	if _, err := e.RegisterInfra(ctx, engine.InfraRegisterOptions{
		Kind: domain.InfraCustomer, CountryCode: "FRA", OwnerID: testCustomerOwner,
		FeeBasisPoints: 2000, ActorID: testCustomerOwner,
	}); err != nil {
		t.Fatalf("register customer infra: %v", err)
	}
	for _, id := range []string{testDriverInfra, testCustomerInfra} {
		if err := e.ApproveInfra(ctx, id, testAuthority); err != nil {
			t.Fatalf("approve %s: %v", id, err)
		}
	}
	if _, err := e.StartWork(ctx, engine.StartWorkOptions{
		DriverUUID: testDriverUUID, InfraID: testDriverInfra,
		Location: domain.Coordinates{Lat: 48.85, Long: 2.35},
		ActorID:  testDriverOwner,
	}); err != nil {
		t.Fatalf("start work: %v", err)
	}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func TestHealthOpen(t *testing.T) {
	ts, done := newTestServer(t)
	defer done()
	res, body := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health = %d: %s", res.StatusCode, body)
	}
}

func TestAuthRequired(t *testing.T) {
	ts, done := newTestServer(t)
	defer done()
	res, body := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/countries", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401: %s", res.StatusCode, body)
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v (%s)", err, body)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("code = %q, want unauthorized", envelope.Error.Code)
	}
}

func TestDevLoginIssuesUsableToken(t *testing.T) {
	ts, done := newTestServer(t)
	defer done()
	res, body := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/v0/auth/dev/login",
		map[string]any{"actor_id": "alice"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login = %d: %s", res.StatusCode, body)
	}
	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil || token.Token == "" {
		t.Fatalf("token response: %v (%s)", err, body)
	}
	res, body = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/countries", nil,
		map[string]string{"Authorization": "Bearer " + token.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authed list = %d: %s", res.StatusCode, body)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	ts, done := newTestServer(t)
	defer done()
	plaintext := "rn_test-key"
	err := ts.Engine.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{
		ID:      "key-1",
		ActorID: "alice",
		KeyHash: repo.HashAPIKey(plaintext),
	})
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	res, body := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/countries", nil,
		map[string]string{"X-Api-Key": plaintext})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth = %d: %s", res.StatusCode, body)
	}
	res, _ = doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/countries", nil,
		map[string]string{"X-Api-Key": "rn_wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad key = %d, want 401", res.StatusCode)
	}
}

func TestRideFlowOverHTTP(t *testing.T) {
	ts, done := newTestServer(t)
	defer done()
	seedMarket(t, ts)
	client := ts.Client()

	res, body := doJSON(t, client, http.MethodPost, ts.URL+"/v0/jobs", map[string]any{
		"customer_infra_id": testCustomerInfra,
		"driver_infra_id":   testDriverInfra,
		"total_fee":         10_000,
		"pickup":            map[string]any{"lat": 48.85, "long": 2.35},
		"drop":              map[string]any{"lat": 48.86, "long": 2.29},
	}, asActor(testCustomerOwner))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("request ride = %d: %s", res.StatusCode, body)
	}
	var job JobResponse
	if err := json.Unmarshal(body, &job); err != nil {
		t.Fatalf("unmarshal job: %v (%s)", err, body)
	}
	if job.Seq != 1 || job.Status != domain.StatusInit || job.EscrowBalance != 10_000 {
		t.Fatalf("unexpected job: %+v", job)
	}

	jobURL := ts.URL + "/v0/jobs/" + testDriverInfra + "/1"

	// a fee mismatch is rejected with the typed envelope
	res, body = doJSON(t, client, http.MethodPost, jobURL+"/accept", map[string]any{
		"driver_uuid":  testDriverUUID,
		"expected_fee": 9_999,
	}, asActor(testDriverOwner))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("fee mismatch = %d, want 422: %s", res.StatusCode, body)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code != "rate_mismatch" {
		t.Fatalf("envelope code = %q (%v): %s", envelope.Error.Code, err, body)
	}

	res, body = doJSON(t, client, http.MethodPost, jobURL+"/accept", map[string]any{
		"driver_uuid":  testDriverUUID,
		"expected_fee": 10_000,
	}, asActor(testDriverOwner))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept = %d: %s", res.StatusCode, body)
	}

	for _, action := range []string{"arrive", "pickup", "complete"} {
		res, body = doJSON(t, client, http.MethodPost, jobURL+"/"+action, nil, asActor(testDriverOwner))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s = %d: %s", action, res.StatusCode, body)
		}
	}

	// settlement is blocked inside the finalize window
	res, body = doJSON(t, client, http.MethodPost, jobURL+"/settle", nil, asActor(testDriverOwner))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("early settle = %d, want 409: %s", res.StatusCode, body)
	}

	ts.advance(2 * time.Hour)
	res, body = doJSON(t, client, http.MethodPost, jobURL+"/settle", nil, asActor(testDriverOwner))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("settle = %d: %s", res.StatusCode, body)
	}
	var settlement SettlementResponse
	if err := json.Unmarshal(body, &settlement); err != nil {
		t.Fatalf("unmarshal settlement: %v (%s)", err, body)
	}
	if settlement.Payouts["owner:"+testDriverOwner] != 7_900 {
		t.Fatalf("driver payout = %d, want 7900", settlement.Payouts["owner:"+testDriverOwner])
	}

	res, _ = doJSON(t, client, http.MethodGet, jobURL, nil, asActor(testDriverOwner))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("settled job = %d, want 404", res.StatusCode)
	}
}

func TestForbiddenActions(t *testing.T) {
	ts, done := newTestServer(t)
	defer done()
	seedMarket(t, ts)
	client := ts.Client()

	// a stranger cannot suspend an operator
	res, body := doJSON(t, client, http.MethodPost,
		ts.URL+"/v0/infras/"+testDriverInfra+"/suspend",
		map[string]any{"reason": "nope"}, asActor("stranger"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("suspend by stranger = %d, want 403: %s", res.StatusCode, body)
	}

	// bad coordinates are a 400
	res, body = doJSON(t, client, http.MethodPost, ts.URL+"/v0/jobs", map[string]any{
		"customer_infra_id": testCustomerInfra,
		"driver_infra_id":   testDriverInfra,
		"total_fee":         10_000,
		"pickup":            map[string]any{"lat": 95.0, "long": 2.35},
		"drop":              map[string]any{"lat": 48.86, "long": 2.29},
	}, asActor(testCustomerOwner))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad pickup = %d, want 400: %s", res.StatusCode, body)
	}
}

func TestLedgerEndpoints(t *testing.T) {
	ts, done := newTestServer(t)
	defer done()
	client := ts.Client()

	res, body := doJSON(t, client, http.MethodPost, ts.URL+"/v0/ledger/deposit",
		map[string]any{"amount": 5_000}, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("deposit = %d: %s", res.StatusCode, body)
	}
	var bal BalanceResponse
	if err := json.Unmarshal(body, &bal); err != nil || bal.Balance != 5_000 {
		t.Fatalf("balance response: %+v (%v)", bal, err)
	}

	res, body = doJSON(t, client, http.MethodGet,
		ts.URL+"/v0/ledger/balance?account=owner:alice", nil, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("balance = %d: %s", res.StatusCode, body)
	}
	if err := json.Unmarshal(body, &bal); err != nil || bal.Balance != 5_000 {
		t.Fatalf("balance readback: %+v (%v)", bal, err)
	}

	// overdrawing is rejected with funds details
	res, body = doJSON(t, client, http.MethodPost, ts.URL+"/v0/ledger/transfer",
		map[string]any{"to": "owner:bob", "amount": 9_000}, asActor("alice"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("overdraw = %d, want 422: %s", res.StatusCode, body)
	}
}

func TestEventLogOverHTTP(t *testing.T) {
	ts, done := newTestServer(t)
	defer done()
	seedMarket(t, ts)
	res, body := doJSON(t, ts.Client(), http.MethodGet,
		ts.URL+"/v0/events?type=infra.registered", nil, asActor(testAuthority))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events = %d: %s", res.StatusCode, body)
	}
	var events []EventResponse
	if err := json.Unmarshal(body, &events); err != nil {
		t.Fatalf("unmarshal events: %v (%s)", err, body)
	}
	if len(events) != 2 {
		t.Fatalf("got %d registration events, want 2", len(events))
	}
}
