package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/domain/model"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/level"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/pipeline/health"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/points"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/store"
)

const testWallet = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

// --- Mock service ---

type mockPointsService struct {
	recordFunc      func(ctx context.Context, in model.ActivityInput) (points.Result, error)
	userFunc        func(ctx context.Context, wallet string) (*points.UserLevel, error)
	activitiesFunc  func(ctx context.Context, wallet string, limit int) ([]points.ActivityView, error)
	leaderboardFunc func(ctx context.Context, limit int) ([]points.LeaderboardEntry, error)
}

func (m *mockPointsService) RecordActivity(ctx context.Context, in model.ActivityInput) (points.Result, error) {
	return m.recordFunc(ctx, in)
}

func (m *mockPointsService) GetOrCreateUser(ctx context.Context, wallet string) (*points.UserLevel, error) {
	return m.userFunc(ctx, wallet)
}

func (m *mockPointsService) GetUserActivities(ctx context.Context, wallet string, limit int) ([]points.ActivityView, error) {
	return m.activitiesFunc(ctx, wallet, limit)
}

func (m *mockPointsService) GetLeaderboard(ctx context.Context, limit int) ([]points.LeaderboardEntry, error) {
	return m.leaderboardFunc(ctx, limit)
}

func (m *mockPointsService) GetAllLevelTiers() []level.Tier {
	return level.Tiers()
}

type staticHealth health.Snapshot

func (h staticHealth) Snapshot() health.Snapshot { return health.Snapshot(h) }

// --- Helpers ---

func newTestServer(svc *mockPointsService, opts ...ServerOption) *Server {
	return NewServer(svc, model.NetworkDevnet, slog.Default(), opts...)
}

type envelopeResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func serve(t *testing.T, srv *Server, req *http.Request) (*httptest.ResponseRecorder, envelopeResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	var env envelopeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return rec, env
}

func activityRequest(body string, token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/activity", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// --- Tests: health / levels ---

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(&mockPointsService{}, WithHealthProvider(staticHealth{
		Network: "devnet", Status: string(health.StatusHealthy), Cycles: 3,
	}))
	srv.nowFn = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Cluster != "devnet" || resp.Service != serviceName {
		t.Errorf("unexpected health response: %+v", resp)
	}
	if resp.Scanner == nil || resp.Scanner.Cycles != 3 {
		t.Errorf("expected scanner snapshot, got %+v", resp.Scanner)
	}
}

func TestHandleLevels(t *testing.T) {
	srv := newTestServer(&mockPointsService{})
	rec, env := serve(t, srv, httptest.NewRequest(http.MethodGet, "/api/levels", nil))
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("expected success, got %d %+v", rec.Code, env)
	}
	var tiers []level.Tier
	if err := json.Unmarshal(env.Data, &tiers); err != nil {
		t.Fatalf("decode tiers: %v", err)
	}
	if len(tiers) != 5 || tiers[4].MaxPoints != nil {
		t.Errorf("unexpected tiers: %+v", tiers)
	}
}

// --- Tests: user ---

func TestHandleUser_Success(t *testing.T) {
	svc := &mockPointsService{
		userFunc: func(_ context.Context, wallet string) (*points.UserLevel, error) {
			return &points.UserLevel{WalletAddress: wallet, TotalPoints: 50, CurrentLevel: "🌱 Seed Planter"}, nil
		},
	}
	rec, env := serve(t, newTestServer(svc), httptest.NewRequest(http.MethodGet, "/api/user/"+testWallet, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var u points.UserLevel
	if err := json.Unmarshal(env.Data, &u); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if u.WalletAddress != testWallet || u.TotalPoints != 50 {
		t.Errorf("unexpected user: %+v", u)
	}
}

func TestHandleUser_InvalidWallet(t *testing.T) {
	rec, env := serve(t, newTestServer(&mockPointsService{}), httptest.NewRequest(http.MethodGet, "/api/user/short", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if env.Success || env.Error == "" {
		t.Errorf("expected error envelope, got %+v", env)
	}
}

func TestHandleUser_StoreErrorHidesDetails(t *testing.T) {
	svc := &mockPointsService{
		userFunc: func(context.Context, string) (*points.UserLevel, error) {
			return nil, errors.New("pq: password authentication failed")
		},
	}
	rec, env := serve(t, newTestServer(svc), httptest.NewRequest(http.MethodGet, "/api/user/"+testWallet, nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(env.Error, "pq") {
		t.Errorf("internal error leaked: %q", env.Error)
	}
}

func TestHandleUserActivities_LimitParsing(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", points.DefaultActivityLimit},
		{"?limit=10", 10},
		{"?limit=abc", points.DefaultActivityLimit},
		{"?limit=-3", points.DefaultActivityLimit},
	}
	for _, tt := range tests {
		var gotLimit int
		svc := &mockPointsService{
			activitiesFunc: func(_ context.Context, _ string, limit int) ([]points.ActivityView, error) {
				gotLimit = limit
				return []points.ActivityView{{ActivityType: "TICKET_MINTED", PointsEarned: 50}}, nil
			},
		}
		rec, env := serve(t, newTestServer(svc), httptest.NewRequest(http.MethodGet, "/api/user/"+testWallet+"/activities"+tt.query, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%q: expected 200, got %d", tt.query, rec.Code)
		}
		if gotLimit != tt.want {
			t.Errorf("%q: expected limit %d, got %d", tt.query, tt.want, gotLimit)
		}
		var data activitiesResponse
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if data.Count != 1 || data.WalletAddress != testWallet {
			t.Errorf("unexpected activities response: %+v", data)
		}
	}
}

func TestHandleLeaderboard(t *testing.T) {
	var gotLimit int
	svc := &mockPointsService{
		leaderboardFunc: func(_ context.Context, limit int) ([]points.LeaderboardEntry, error) {
			gotLimit = limit
			return []points.LeaderboardEntry{{Rank: 1, WalletAddress: testWallet, TotalPoints: 1050}}, nil
		},
	}
	rec, env := serve(t, newTestServer(svc), httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotLimit != points.DefaultLeaderboardLimit {
		t.Errorf("expected default limit, got %d", gotLimit)
	}
	var data leaderboardResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.Count != 1 || data.Leaderboard[0].TotalPoints != 1050 {
		t.Errorf("unexpected leaderboard: %+v", data)
	}
}

// --- Tests: manual activity ---

func TestHandleRecordActivity_Success(t *testing.T) {
	var got model.ActivityInput
	svc := &mockPointsService{
		recordFunc: func(_ context.Context, in model.ActivityInput) (points.Result, error) {
			got = in
			return points.Result{Success: true, PointsEarned: 100, NewTotal: 150}, nil
		},
	}
	body := `{"walletAddress":"` + testWallet + `","activityType":"EVENT_CREATED","transactionSignature":"sigB","metadata":{"note":"manual"}}`
	rec, env := serve(t, newTestServer(svc, WithAdminToken("s3cret")), activityRequest(body, "s3cret"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, env.Error)
	}
	if got.ActivityType != model.ActivityEventCreated || got.Signature != "sigB" {
		t.Errorf("unexpected input: %+v", got)
	}
	if !bytes.Contains(got.Metadata, []byte(`"manual"`)) {
		t.Errorf("metadata not forwarded: %s", got.Metadata)
	}
	var data recordActivityResponse
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.PointsEarned != 100 || data.NewTotal != 150 {
		t.Errorf("unexpected result: %+v", data)
	}
}

func TestHandleRecordActivity_Auth(t *testing.T) {
	body := `{"walletAddress":"` + testWallet + `","activityType":"EVENT_CREATED"}`

	rec, _ := serve(t, newTestServer(&mockPointsService{}), activityRequest(body, "anything"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no token configured: expected 503, got %d", rec.Code)
	}

	srv := newTestServer(&mockPointsService{}, WithAdminToken("s3cret"))
	rec, _ = serve(t, srv, activityRequest(body, ""))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing header: expected 401, got %d", rec.Code)
	}
	rec, _ = serve(t, srv, activityRequest(body, "wrong"))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: expected 401, got %d", rec.Code)
	}
}

func TestHandleRecordActivity_Validation(t *testing.T) {
	srv := newTestServer(&mockPointsService{}, WithAdminToken("s3cret"))
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"short wallet", `{"walletAddress":"abc","activityType":"EVENT_CREATED"}`},
		{"unknown type", `{"walletAddress":"` + testWallet + `","activityType":"TICKET_BURNED"}`},
	}
	for _, tt := range tests {
		rec, env := serve(t, srv, activityRequest(tt.body, "s3cret"))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tt.name, rec.Code)
		}
		if env.Success {
			t.Errorf("%s: expected success=false", tt.name)
		}
	}
}

func TestHandleRecordActivity_Duplicate(t *testing.T) {
	svc := &mockPointsService{
		recordFunc: func(context.Context, model.ActivityInput) (points.Result, error) {
			return points.Result{Message: points.DuplicateMessage}, store.ErrDuplicateActivity
		},
	}
	body := `{"walletAddress":"` + testWallet + `","activityType":"TICKET_MINTED","transactionSignature":"sigA"}`
	rec, env := serve(t, newTestServer(svc, WithAdminToken("s3cret")), activityRequest(body, "s3cret"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if env.Error != points.DuplicateMessage {
		t.Errorf("unexpected error %q", env.Error)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	srv := newTestServer(&mockPointsService{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/levels", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}
