package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/domain/model"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/level"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/metrics"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/pipeline/health"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/points"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/store"
)

const (
	maxRequestBodyBytes = 10 << 10 // 10 KB
	serviceName         = "level-system"
)

// PointsService is the ledger surface exposed over HTTP.
type PointsService interface {
	RecordActivity(ctx context.Context, in model.ActivityInput) (points.Result, error)
	GetOrCreateUser(ctx context.Context, wallet string) (*points.UserLevel, error)
	GetUserActivities(ctx context.Context, wallet string, limit int) ([]points.ActivityView, error)
	GetLeaderboard(ctx context.Context, limit int) ([]points.LeaderboardEntry, error)
	GetAllLevelTiers() []level.Tier
}

// HealthProvider returns the scanner health snapshot.
type HealthProvider interface {
	Snapshot() health.Snapshot
}

// Server serves the read API and the trusted manual activity endpoint.
type Server struct {
	svc        PointsService
	health     HealthProvider
	adminToken string
	network    model.Network
	logger     *slog.Logger
	nowFn      func() time.Time
}

type ServerOption func(*Server)

func WithHealthProvider(hp HealthProvider) ServerOption {
	return func(s *Server) { s.health = hp }
}

// WithAdminToken enables POST /api/activity for callers presenting token
// as a bearer credential. Without it the endpoint answers 503.
func WithAdminToken(token string) ServerOption {
	return func(s *Server) { s.adminToken = token }
}

func NewServer(svc PointsService, network model.Network, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		svc:     svc,
		network: network,
		logger:  logger.With("component", "api"),
		nowFn:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.instrument("health", s.handleHealth))
	mux.HandleFunc("GET /api/levels", s.instrument("levels", s.handleLevels))
	mux.HandleFunc("GET /api/user/{wallet}", s.instrument("user", s.handleUser))
	mux.HandleFunc("GET /api/user/{wallet}/activities", s.instrument("user_activities", s.handleUserActivities))
	mux.HandleFunc("GET /api/leaderboard", s.instrument("leaderboard", s.handleLeaderboard))
	mux.HandleFunc("POST /api/activity", s.instrument("activity", s.handleRecordActivity))
	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	}
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// queryLimit parses ?limit=, falling back to def for missing or malformed values.
func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Server) walletParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	wallet := r.PathValue("wallet")
	if err := points.ValidateWallet(wallet); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid wallet address format")
		return "", false
	}
	return wallet, true
}

type healthResponse struct {
	Status    string           `json:"status"`
	Service   string           `json:"service"`
	Cluster   string           `json:"cluster"`
	Timestamp time.Time        `json:"timestamp"`
	Scanner   *health.Snapshot `json:"scanner,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Service:   serviceName,
		Cluster:   s.network.String(),
		Timestamp: s.nowFn().UTC(),
	}
	if s.health != nil {
		snap := s.health.Snapshot()
		resp.Scanner = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLevels(w http.ResponseWriter, _ *http.Request) {
	writeData(w, s.svc.GetAllLevelTiers())
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	wallet, ok := s.walletParam(w, r)
	if !ok {
		return
	}
	u, err := s.svc.GetOrCreateUser(r.Context(), wallet)
	if err != nil {
		s.logger.Error("get user failed", "wallet", wallet, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeData(w, u)
}

type activitiesResponse struct {
	WalletAddress string                `json:"walletAddress"`
	Count         int                   `json:"count"`
	Activities    []points.ActivityView `json:"activities"`
}

func (s *Server) handleUserActivities(w http.ResponseWriter, r *http.Request) {
	wallet, ok := s.walletParam(w, r)
	if !ok {
		return
	}
	acts, err := s.svc.GetUserActivities(r.Context(), wallet, queryLimit(r, points.DefaultActivityLimit))
	if err != nil {
		s.logger.Error("list activities failed", "wallet", wallet, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeData(w, activitiesResponse{WalletAddress: wallet, Count: len(acts), Activities: acts})
}

type leaderboardResponse struct {
	Count       int                       `json:"count"`
	Leaderboard []points.LeaderboardEntry `json:"leaderboard"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	rows, err := s.svc.GetLeaderboard(r.Context(), queryLimit(r, points.DefaultLeaderboardLimit))
	if err != nil {
		s.logger.Error("leaderboard failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeData(w, leaderboardResponse{Count: len(rows), Leaderboard: rows})
}

type recordActivityRequest struct {
	WalletAddress        string          `json:"walletAddress"`
	ActivityType         string          `json:"activityType"`
	TransactionSignature string          `json:"transactionSignature"`
	Metadata             json.RawMessage `json:"metadata"`
}

type recordActivityResponse struct {
	PointsEarned int64 `json:"pointsEarned"`
	NewTotal     int64 `json:"newTotal"`
}

func (s *Server) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) == 1
}

func (s *Server) handleRecordActivity(w http.ResponseWriter, r *http.Request) {
	if s.adminToken == "" {
		writeError(w, http.StatusServiceUnavailable, "manual activity endpoint disabled")
		return
	}
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "Missing or invalid authorization header")
		return
	}

	var req recordActivityRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := points.ValidateWallet(req.WalletAddress); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid wallet address format")
		return
	}
	kind := model.ActivityTypeName(req.ActivityType)
	if !kind.IsKnown() {
		writeError(w, http.StatusBadRequest, "Invalid activity type")
		return
	}
	if len(req.Metadata) > 0 && !json.Valid(req.Metadata) {
		writeError(w, http.StatusBadRequest, "metadata must be valid JSON")
		return
	}

	res, err := s.svc.RecordActivity(r.Context(), model.ActivityInput{
		WalletAddress: req.WalletAddress,
		ActivityType:  kind,
		Signature:     req.TransactionSignature,
		Metadata:      req.Metadata,
	})
	switch {
	case err == nil:
	case errors.Is(err, store.ErrDuplicateActivity):
		writeError(w, http.StatusConflict, points.DuplicateMessage)
		return
	case errors.Is(err, store.ErrUnknownActivityType):
		writeError(w, http.StatusBadRequest, "Invalid activity type")
		return
	default:
		s.logger.Error("manual activity failed", "wallet", req.WalletAddress, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.logger.Info("activity added via API",
		"wallet", req.WalletAddress,
		"activity_type", kind,
		"points", res.PointsEarned,
	)
	writeData(w, recordActivityResponse{PointsEarned: res.PointsEarned, NewTotal: res.NewTotal})
}
