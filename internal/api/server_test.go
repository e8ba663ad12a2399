package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"forge-supply/internal/domain"
	"forge-supply/internal/solana"
	"forge-supply/internal/solana/stub"
	"forge-supply/internal/storage/memory"
	"forge-supply/internal/supply"
)

const (
	testMint      = "2FKq2Bp8u1LbXqk74nSRWV87MXvELTgAHeRHXxHV94hk"
	testAuthority = "J6kZJ7pM4tavNJdbv8fyv5VAiRUt4iWiFKBZgMDzhzsR"

	supplyErrorBody = `{"error":"Error fetching supply information."}` + "\n"
)

func newTestServer(t *testing.T, rpc solana.RPCClient, opts Options) *Server {
	t.Helper()

	opts.Reporter = supply.NewReporter(supply.Options{
		RPC:       rpc,
		Mint:      testMint,
		Authority: testAuthority,
	})
	opts.Mint = testMint
	return New(opts)
}

func do(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRoot(t *testing.T) {
	rpc := stub.NewRPCClient()
	s := newTestServer(t, rpc, Options{})

	rec := do(t, s, http.MethodGet, "/")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Body.String(); got != welcomeText {
		t.Errorf("body = %q, want %q", got, welcomeText)
	}
	if n := rpc.Calls.Load(); n != 0 {
		t.Errorf("root made %d upstream calls, want 0", n)
	}
}

func TestSupply_NoLockedAccounts(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.SetMint(testMint, 123456789, 6)
	s := newTestServer(t, rpc, Options{})

	rec := do(t, s, http.MethodGet, "/forge/supply")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	want := `{"totalSupply":"123.456789","circulatingSupply":"123.456789"}` + "\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("body = %s, want %s", got, want)
	}
}

func TestSupply_SubtractsLockedBalances(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.SetMint(testMint, 1_000_000_000_000_000, 9)
	rpc.AddTokenAccount("lockedA", testMint, testAuthority, 400_000_000_000_000)
	rpc.AddTokenAccount("lockedB", testMint, testAuthority, 5)
	s := newTestServer(t, rpc, Options{})

	rec := do(t, s, http.MethodGet, "/forge/supply")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp supply.SupplyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalSupply != "1000000.000000000" {
		t.Errorf("totalSupply = %s", resp.TotalSupply)
	}
	if resp.CirculatingSupply != "599999.999999995" {
		t.Errorf("circulatingSupply = %s", resp.CirculatingSupply)
	}
}

func TestSupply_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(rpc *stub.RPCClient)
	}{
		{
			name:  "mint missing",
			setup: func(rpc *stub.RPCClient) {},
		},
		{
			name: "mint fetch fails",
			setup: func(rpc *stub.RPCClient) {
				rpc.SetMint(testMint, 1, 0)
				rpc.Errors["getAccountInfo"] = solana.ErrTransport
			},
		},
		{
			name: "account listing fails",
			setup: func(rpc *stub.RPCClient) {
				rpc.SetMint(testMint, 1, 0)
				rpc.Errors["getTokenAccountsByOwner"] = &solana.RPCError{Code: -32602, Message: "invalid param"}
			},
		},
		{
			name: "balance fetch fails",
			setup: func(rpc *stub.RPCClient) {
				rpc.SetMint(testMint, 1, 0)
				rpc.AddTokenAccount("locked", testMint, testAuthority, 1)
				rpc.AccountErrors["locked"] = solana.ErrTransport
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rpc := stub.NewRPCClient()
			tt.setup(rpc)
			s := newTestServer(t, rpc, Options{})

			rec := do(t, s, http.MethodGet, "/forge/supply")

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("status = %d, want 500", rec.Code)
			}
			if got := rec.Body.String(); got != supplyErrorBody {
				t.Errorf("body = %s, want %s", got, supplyErrorBody)
			}
			if strings.Contains(rec.Body.String(), "Supply\"") {
				t.Errorf("error body leaked supply fields: %s", rec.Body.String())
			}
		})
	}
}

func TestSupply_Idempotent(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.SetMint(testMint, 987654321, 6)
	rpc.AddTokenAccount("locked", testMint, testAuthority, 12345)
	s := newTestServer(t, rpc, Options{})

	first := do(t, s, http.MethodGet, "/forge/supply").Body.String()
	second := do(t, s, http.MethodGet, "/forge/supply").Body.String()

	if first != second {
		t.Errorf("bodies differ: %s vs %s", first, second)
	}
}

// slowComputer blocks until its context ends.
type slowComputer struct{}

func (slowComputer) Compute(ctx context.Context) (*supply.Report, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSupply_RequestTimeout(t *testing.T) {
	s := New(Options{Reporter: slowComputer{}, Mint: testMint, RequestTimeout: 20 * time.Millisecond})

	start := time.Now()
	rec := do(t, s, http.MethodGet, "/forge/supply")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if rec.Body.String() != supplyErrorBody {
		t.Errorf("body = %s", rec.Body.String())
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("request took %v, timeout not applied", elapsed)
	}
}

func TestLocked(t *testing.T) {
	ata, err := solana.AssociatedTokenAddress(testAuthority, testMint, solana.TokenProgramID)
	if err != nil {
		t.Fatalf("AssociatedTokenAddress: %v", err)
	}

	rpc := stub.NewRPCClient()
	rpc.SetMint(testMint, 10_000_000, 6)
	rpc.AddTokenAccount(ata, testMint, testAuthority, 2_500_000)
	s := newTestServer(t, rpc, Options{})

	rec := do(t, s, http.MethodGet, "/forge/supply/locked")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp supply.LockedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Mint != testMint || resp.Authority != testAuthority {
		t.Errorf("mint/authority = %s/%s", resp.Mint, resp.Authority)
	}
	if resp.LockedSupply != "2.500000" {
		t.Errorf("lockedSupply = %s", resp.LockedSupply)
	}
	if len(resp.Accounts) != 1 || !resp.Accounts[0].Associated || resp.Accounts[0].Address != ata {
		t.Errorf("accounts = %+v", resp.Accounts)
	}
}

func TestLocked_Failure(t *testing.T) {
	s := newTestServer(t, stub.NewRPCClient(), Options{})

	rec := do(t, s, http.MethodGet, "/forge/supply/locked")

	if rec.Code != http.StatusInternalServerError || rec.Body.String() != supplyErrorBody {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestHistory_Disabled(t *testing.T) {
	s := newTestServer(t, stub.NewRPCClient(), Options{})

	rec := do(t, s, http.MethodGet, "/forge/supply/history")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	want := `{"error":"Snapshot history is not enabled."}` + "\n"
	if rec.Body.String() != want {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHistory(t *testing.T) {
	store := memory.NewSnapshotStore()
	ctx := context.Background()
	for i, ts := range []int64{1700000000000, 1700000300000, 1700000600000} {
		err := store.Insert(ctx, &domain.SupplySnapshot{
			SnapshotID:        string(rune('a' + i)),
			Mint:              testMint,
			Decimals:          6,
			TotalSupply:       "123456789",
			LockedSupply:      "5",
			CirculatingSupply: "123456784",
			Trigger:           domain.TriggerInterval,
			TakenAt:           ts,
		})
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	s := newTestServer(t, stub.NewRPCClient(), Options{Snapshots: store})

	rec := do(t, s, http.MethodGet, "/forge/supply/history?limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp HistoryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Snapshots) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(resp.Snapshots))
	}

	first := resp.Snapshots[0]
	if first.SnapshotID != "c" {
		t.Errorf("first snapshot = %s, want newest (c)", first.SnapshotID)
	}
	if first.TotalSupply != "123.456789" || first.LockedSupply != "0.000005" || first.CirculatingSupply != "123.456784" {
		t.Errorf("amounts = %+v", first)
	}
	if first.TakenAt != "2023-11-14T22:23:20Z" {
		t.Errorf("takenAt = %s", first.TakenAt)
	}
}

func TestLatest(t *testing.T) {
	s := newTestServer(t, stub.NewRPCClient(), Options{})
	if rec := do(t, s, http.MethodGet, "/forge/supply/latest"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled: status = %d, want 503", rec.Code)
	}

	store := memory.NewSnapshotStore()
	s = newTestServer(t, stub.NewRPCClient(), Options{Snapshots: store})

	rec := do(t, s, http.MethodGet, "/forge/supply/latest")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("empty: status = %d, want 404", rec.Code)
	}
	if want := `{"error":"No snapshot recorded yet."}` + "\n"; rec.Body.String() != want {
		t.Errorf("body = %s", rec.Body.String())
	}

	ctx := context.Background()
	for i, ts := range []int64{1700000600000, 1700000000000} {
		err := store.Insert(ctx, &domain.SupplySnapshot{
			SnapshotID:        string(rune('a' + i)),
			Mint:              testMint,
			Decimals:          6,
			TotalSupply:       "2000000",
			LockedSupply:      "500000",
			CirculatingSupply: "1500000",
			Trigger:           domain.TriggerMintChange,
			TakenAt:           ts,
		})
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	rec = do(t, s, http.MethodGet, "/forge/supply/latest")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var snap SnapshotResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.SnapshotID != "a" || snap.CirculatingSupply != "1.500000" || snap.Trigger != "mint_change" {
		t.Errorf("latest = %+v", snap)
	}
}

func TestTimeseries(t *testing.T) {
	store := memory.NewSupplyTimeseriesStore()
	now := time.UnixMilli(1700000000000)
	err := store.InsertBulk(context.Background(), []*domain.SupplyTimeseriesPoint{
		{Mint: testMint, TimestampMs: now.Add(-48 * time.Hour).UnixMilli(), Decimals: 6, TotalSupply: "1", LockedSupply: "0", CirculatingSupply: "1", Trigger: domain.TriggerStartup},
		{Mint: testMint, TimestampMs: now.Add(-time.Hour).UnixMilli(), Decimals: 6, TotalSupply: "123456789", LockedSupply: "5", CirculatingSupply: "123456784", Trigger: domain.TriggerInterval},
		{Mint: "otherMint", TimestampMs: now.Add(-time.Hour).UnixMilli(), Decimals: 6, TotalSupply: "9", Trigger: domain.TriggerInterval},
	})
	if err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}

	s := newTestServer(t, stub.NewRPCClient(), Options{
		Timeseries: store,
		Now:        func() time.Time { return now },
	})

	decode := func(rec *httptest.ResponseRecorder) TimeseriesResponse {
		t.Helper()
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
		var resp TimeseriesResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp
	}

	// Default window is the last 24 hours.
	resp := decode(do(t, s, http.MethodGet, "/forge/supply/timeseries"))
	if len(resp.Points) != 1 {
		t.Fatalf("got %d points, want 1", len(resp.Points))
	}
	p := resp.Points[0]
	if p.TotalSupply != "123.456789" || p.CirculatingSupply != "123.456784" || p.Trigger != "interval" {
		t.Errorf("point = %+v", p)
	}
	if p.Timestamp != "2023-11-14T21:13:20Z" {
		t.Errorf("timestamp = %s", p.Timestamp)
	}

	from := strconv.FormatInt(now.Add(-72*time.Hour).UnixMilli(), 10)
	resp = decode(do(t, s, http.MethodGet, "/forge/supply/timeseries?from="+from))
	if len(resp.Points) != 2 {
		t.Errorf("explicit from: got %d points, want 2", len(resp.Points))
	}
}

func TestTimeseries_Errors(t *testing.T) {
	s := newTestServer(t, stub.NewRPCClient(), Options{})
	if rec := do(t, s, http.MethodGet, "/forge/supply/timeseries"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled: status = %d, want 503", rec.Code)
	}

	s = newTestServer(t, stub.NewRPCClient(), Options{Timeseries: memory.NewSupplyTimeseriesStore()})
	for _, q := range []string{
		"from=abc",
		"to=-1",
		"from=2000&to=1000",
		"from=0&to=" + strconv.FormatInt((32*24*time.Hour).Milliseconds(), 10),
	} {
		rec := do(t, s, http.MethodGet, "/forge/supply/timeseries?"+q)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestHistory_InvalidLimit(t *testing.T) {
	s := newTestServer(t, stub.NewRPCClient(), Options{Snapshots: memory.NewSnapshotStore()})

	for _, q := range []string{"abc", "0", "-3"} {
		rec := do(t, s, http.MethodGet, "/forge/supply/history?limit="+q)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", q, rec.Code)
		}
	}

	rec := do(t, s, http.MethodGet, "/forge/supply/history?limit=100000")
	if rec.Code != http.StatusOK {
		t.Errorf("large limit: status = %d, want 200", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.SetMint(testMint, 1, 0)
	fixed := time.Unix(1700000000, 0)
	s := newTestServer(t, rpc, Options{
		RateLimiter: NewRateLimiter(1, 2, 0),
		Now:         func() time.Time { return fixed },
	})

	for i := 0; i < 2; i++ {
		if rec := do(t, s, http.MethodGet, "/forge/supply"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}

	rec := do(t, s, http.MethodGet, "/forge/supply")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if want := `{"error":"Too many requests."}` + "\n"; rec.Body.String() != want {
		t.Errorf("body = %s", rec.Body.String())
	}

	// Health is never limited.
	if rec := do(t, s, http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestRoot_NotRateLimited(t *testing.T) {
	fixed := time.Unix(1700000000, 0)
	s := newTestServer(t, stub.NewRPCClient(), Options{
		RateLimiter: NewRateLimiter(10, 20, 0),
		Now:         func() time.Time { return fixed },
	})

	for i := 0; i < 25; i++ {
		rec := do(t, s, http.MethodGet, "/")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, stub.NewRPCClient(), Options{})

	rec := do(t, s, http.MethodGet, "/health")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "forge_supply_") {
		t.Errorf("metrics output missing forge_supply_ namespace")
	}
}

func TestUnknownRoutes(t *testing.T) {
	s := newTestServer(t, stub.NewRPCClient(), Options{})

	if rec := do(t, s, http.MethodGet, "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("GET /nope = %d, want 404", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/forge/supply"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /forge/supply = %d, want 405", rec.Code)
	}
}

func TestListenAndServe_Shutdown(t *testing.T) {
	s := newTestServer(t, stub.NewRPCClient(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx, "127.0.0.1:0", time.Second) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("ListenAndServe() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not return after cancel")
	}
}
