package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/quizjourney/internal/config"
	"github.com/stemsi/quizjourney/internal/handler"
	"github.com/stemsi/quizjourney/internal/middleware"
	"github.com/stemsi/quizjourney/internal/model"
	"github.com/stemsi/quizjourney/internal/progress"
	"github.com/stemsi/quizjourney/internal/progress/progresstest"
	"github.com/stemsi/quizjourney/internal/router"
	"github.com/stemsi/quizjourney/internal/service"
	"github.com/stemsi/quizjourney/internal/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

// ─── fakes ───────────────────────────────────────────────────────────

type memSaver struct {
	mu      sync.Mutex
	records []*model.ProgressRecord
}

func (s *memSaver) Save(_ context.Context, rec *model.ProgressRecord, _ *model.FallbackSnapshot) progress.SaveOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return progress.SavedFallback
}

func (s *memSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type memStore struct {
	records []model.ProgressRecord
	snap    *model.FallbackSnapshot
}

func (m *memStore) GetByUserAndAssignment(context.Context, string, string) (*model.ProgressRecord, error) {
	return nil, pgx.ErrNoRows
}

func (m *memStore) ListByAssignment(context.Context, string, int) ([]model.ProgressRecord, error) {
	return m.records, nil
}

func (m *memStore) GetFallback(context.Context, string, string) (*model.FallbackSnapshot, error) {
	if m.snap == nil {
		return nil, redis.Nil
	}
	return m.snap, nil
}

type memUsers struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func (m *memUsers) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.ID = uuid.New()
	m.users[u.Email] = u
	return nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[email]; ok {
		return u, nil
	}
	return nil, pgx.ErrNoRows
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

// ─── fixture ─────────────────────────────────────────────────────────

type env struct {
	router   *gin.Engine
	auth     *service.AuthService
	progress *service.ProgressService
	saver    *memSaver
	store    *memStore
	clock    *progresstest.ManualClock
	mr       *miniredis.Miniredis
	rdb      *redis.Client
}

func newEnv(t *testing.T, db handler.Pinger) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		GinMode:       gin.TestMode,
		JWTSecret:     "0123456789abcdef0123",
		JWTExpiry:     time.Hour,
		AnonJWTExpiry: time.Hour,
		BcryptCost:    4,
		AuthRateLimit: 100,
	}

	e := &env{
		saver: &memSaver{},
		store: &memStore{},
		clock: progresstest.NewManualClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		mr:    mr,
		rdb:   rdb,
	}
	e.auth = service.NewAuthService(cfg, &memUsers{users: make(map[string]*model.User)})
	e.progress = service.NewProgressService(e.saver, e.store, e.store, nil, time.Minute, time.Hour,
		zerolog.Nop(), service.WithServiceClock(e.clock))
	t.Cleanup(func() { e.progress.Shutdown(context.Background()) })

	handlers := &router.Handlers{
		Auth:     handler.NewAuthHandler(e.auth),
		Progress: handler.NewProgressHandler(e.progress),
		WS:       handler.NewWSHandler(e.progress, zerolog.Nop(), nil),
		Monitor:  handler.NewMonitorHandler(rdb, e.progress, zerolog.Nop()),
		System:   handler.NewSystemHandler(db, rdb, e.progress),
	}
	limiter := middleware.NewRateLimiter(rdb, cfg.AuthRateLimit, time.Minute, zerolog.Nop())
	e.router = router.SetupRouter(e.auth, limiter, handlers, cfg)
	return e
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

func (e *env) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (e *env) anonymous(t *testing.T) string {
	t.Helper()
	code, env := e.do(t, http.MethodPost, "/api/v1/auth/anonymous", "", nil)
	require.Equal(t, http.StatusCreated, code)
	var resp model.TokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	return resp.Token
}

func (e *env) admin(t *testing.T) string {
	t.Helper()
	tok, err := e.auth.GenerateToken(model.Identity{UserID: uuid.NewString(), Role: model.RoleOrgAdmin}, time.Hour)
	require.NoError(t, err)
	return tok
}

func decodeStats(t *testing.T, env envelope) model.ProgressStats {
	t.Helper()
	var s model.ProgressStats
	require.NoError(t, json.Unmarshal(env.Data, &s))
	return s
}

// ─── tests ───────────────────────────────────────────────────────────

func TestProgressAPI_Journey(t *testing.T) {
	e := newEnv(t, pinger{})
	tok := e.anonymous(t)
	base := "/api/v1/progress/A1"

	code, env := e.do(t, http.MethodPost, base+"/start", tok, gin.H{"total_questions": 4})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, model.JourneyStatusInProgress, decodeStats(t, env).Status)

	code, _ = e.do(t, http.MethodPost, base+"/questions/Q1/start", tok, gin.H{"question_index": 0})
	require.Equal(t, http.StatusOK, code)

	e.clock.Advance(9 * time.Second)
	code, env = e.do(t, http.MethodPost, base+"/questions/Q1/answer", tok, gin.H{"is_correct": true, "response_data": gin.H{"choice": "b"}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 25, decodeStats(t, env).ProgressPercentage)

	code, env = e.do(t, http.MethodGet, base+"/questions/Q1/time", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"question_id":"Q1","time_spent":9}`, string(env.Data))

	code, env = e.do(t, http.MethodPost, base+"/questions/Q3/start", tok, gin.H{"question_index": 2})
	require.Equal(t, http.StatusOK, code)
	stats := decodeStats(t, env)
	assert.Equal(t, model.JourneyStatusHalfway, stats.Status)
	assert.Equal(t, model.MilestoneHalfway, stats.Milestone)

	code, env = e.do(t, http.MethodPost, base+"/navigate", tok, gin.H{"new_index": 1})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, decodeStats(t, env).CurrentQuestionIndex)

	code, env = e.do(t, http.MethodPost, base+"/save", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"outcome":"fallback"}`, string(env.Data))

	code, env = e.do(t, http.MethodPost, base+"/complete", tok, gin.H{"final_score": 25})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.MilestoneCompleted, decodeStats(t, env).Milestone)

	code, env = e.do(t, http.MethodPost, base+"/questions/Q4/start", tok, gin.H{"question_index": 3})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "JOURNEY_FINISHED", env.Error.Code)

	code, _ = e.do(t, http.MethodDelete, base, tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Zero(t, e.progress.Live())
	assert.Equal(t, 3, e.saver.count(), "save, complete and release each persist")
}

func TestProgressAPI_Errors(t *testing.T) {
	e := newEnv(t, pinger{})
	tok := e.anonymous(t)

	cases := []struct {
		name     string
		method   string
		path     string
		token    string
		body     interface{}
		wantCode int
		wantErr  string
	}{
		{"no token", http.MethodGet, "/api/v1/progress/A1/stats", "", nil, http.StatusUnauthorized, "TOKEN_REQUIRED"},
		{"zero questions", http.MethodPost, "/api/v1/progress/A1/start", tok, gin.H{"total_questions": 0}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"no journey", http.MethodGet, "/api/v1/progress/A1/stats", tok, nil, http.StatusNotFound, "NO_ACTIVE_JOURNEY"},
		{"missing index", http.MethodPost, "/api/v1/progress/A1/questions/Q1/start", tok, gin.H{}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing correctness", http.MethodPost, "/api/v1/progress/A1/questions/Q1/answer", tok, gin.H{"response_data": 1}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"no history", http.MethodGet, "/api/v1/progress/A1/history", tok, nil, http.StatusNotFound, "NO_SAVED_PROGRESS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, env := e.do(t, tc.method, tc.path, tc.token, tc.body)
			assert.Equal(t, tc.wantCode, code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.wantErr, env.Error.Code)
		})
	}
}

func TestProgressAPI_TrackerPreconditions(t *testing.T) {
	e := newEnv(t, pinger{})
	tok := e.anonymous(t)
	base := "/api/v1/progress/A1"

	code, _ := e.do(t, http.MethodPost, base+"/start", tok, gin.H{"total_questions": 2})
	require.Equal(t, http.StatusCreated, code)

	code, env := e.do(t, http.MethodPost, base+"/questions/Q1/answer", tok, gin.H{"is_correct": false})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "QUESTION_NOT_STARTED", env.Error.Code)

	code, env = e.do(t, http.MethodPost, base+"/questions/Q9/start", tok, gin.H{"question_index": 5})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_QUESTION", env.Error.Code)
}

func TestProgressAPI_HistoryFromFallback(t *testing.T) {
	e := newEnv(t, pinger{})
	now := e.clock.Now()
	e.store.snap = &model.FallbackSnapshot{
		Journey:            *model.NewJourney("u-1", "A1", 4, now),
		LastSaved:          now,
		ProgressPercentage: 50,
		Milestone:          model.MilestoneInProgress,
	}

	code, env := e.do(t, http.MethodGet, "/api/v1/progress/A1/history", e.anonymous(t), nil)
	require.Equal(t, http.StatusOK, code)

	var h model.ProgressHistory
	require.NoError(t, json.Unmarshal(env.Data, &h))
	assert.Equal(t, "fallback", h.Source)
	require.NotNil(t, h.Snapshot)
	assert.Equal(t, 50, h.Snapshot.ProgressPercentage)
}

func TestAuthAPI(t *testing.T) {
	e := newEnv(t, pinger{})

	code, env := e.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{"email": "ana@example.com", "name": "Ana", "password": "secret123"})
	require.Equal(t, http.StatusCreated, code)
	var reg model.TokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &reg))
	assert.Equal(t, model.RoleMember, reg.Identity.Role)

	code, env = e.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "ana@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)

	code, env = e.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "not-an-email", "password": "secret123"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error.Fields, "email")

	code, env = e.do(t, http.MethodGet, "/api/v1/auth/me", reg.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "ana@example.com")

	code, env = e.do(t, http.MethodGet, "/api/v1/auth/me", e.anonymous(t), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"anonymous":true`)
}

func TestAdminAPI(t *testing.T) {
	e := newEnv(t, pinger{})
	score := 80.0
	e.store.records = []model.ProgressRecord{
		{UserID: "u-1", AssignmentID: "A1", Status: model.RecordStatusCompleted, TimeSpent: 100, FinalScore: &score},
		{UserID: "u-2", AssignmentID: "A1", Status: model.RecordStatusInProgress, TimeSpent: 50},
	}

	code, _ := e.do(t, http.MethodGet, "/api/v1/admin/assignments/A1/progress", e.anonymous(t), nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env := e.do(t, http.MethodGet, "/api/v1/admin/assignments/A1/progress", e.admin(t), nil)
	require.Equal(t, http.StatusOK, code)

	var body struct {
		Stats struct {
			TotalTracked    int     `json:"total_tracked"`
			TotalCompleted  int     `json:"total_completed"`
			TotalInProgress int     `json:"total_in_progress"`
			AverageScore    float64 `json:"average_score"`
			AverageTime     int     `json:"average_time_spent"`
		} `json:"stats"`
		Records []model.ProgressRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, 2, body.Stats.TotalTracked)
	assert.Equal(t, 1, body.Stats.TotalCompleted)
	assert.Equal(t, 1, body.Stats.TotalInProgress)
	assert.Equal(t, 80.0, body.Stats.AverageScore)
	assert.Equal(t, 75, body.Stats.AverageTime)
	assert.Len(t, body.Records, 2)
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		e := newEnv(t, pinger{})
		code, env := e.do(t, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, code)
		assert.Contains(t, string(env.Data), `"database":"ok"`)
	})

	t.Run("database down", func(t *testing.T) {
		e := newEnv(t, pinger{err: errors.New("connection refused")})
		code, env := e.do(t, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Contains(t, string(env.Data), `"database":"unreachable"`)
	})
}
