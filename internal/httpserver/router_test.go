package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coursemail/internal/api"
	"coursemail/internal/dispatch"
	"coursemail/internal/mailer"
	"coursemail/internal/memstore"
	"coursemail/internal/model"
	"coursemail/internal/quota"
	"coursemail/internal/service"
	"coursemail/pkg/auth"
	"coursemail/pkg/rbac"
	"coursemail/pkg/trace"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret        = "test-secret"
	testDispatchToken = "sweep-token"
)

type okSender struct{ sent int }

func (s *okSender) Send(ctx context.Context, msg mailer.Message) error {
	s.sent++
	return nil
}

type testServer struct {
	router *Router
	store  *memstore.Store
	sender *okSender
}

func newTestServer(t *testing.T, readiness map[string]ReadinessCheck) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()

	store := memstore.New()
	ledger := quota.NewLedger(store, quota.DefaultLimits(), log)
	sender := &okSender{}
	dispatcher := dispatch.NewDispatcher(store, ledger, sender, log)
	renderer, err := mailer.NewRenderer("Academy")
	require.NoError(t, err)
	emailService := service.NewEmailService(store, nil, renderer, log)
	statsService := service.NewStatisticsService(store, nil, quota.DefaultLimits(), 30*time.Second, log)

	router := NewRouter(Handlers{
		EmailJobs: api.NewEmailJobHandler(emailService, log),
		Dispatch:  api.NewDispatchHandler(dispatcher, log),
		Stats:     api.NewStatsHandler(statsService, log),
	}, Options{
		JWTSecret:     testSecret,
		DispatchToken: testDispatchToken,
		Readiness:     readiness,
		Logger:        log,
	})
	return &testServer{router: router, store: store, sender: sender}
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := auth.GenerateJWT(userID, role, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t, map[string]ReadinessCheck{
		"postgres": func(ctx context.Context) error { return nil },
	})
	w := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(trace.HeaderName))

	w = s.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	down := newTestServer(t, map[string]ReadinessCheck{
		"redis": func(ctx context.Context) error { return errors.New("connection refused") },
	})
	w = down.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestEnqueue_AuthAndPermissions(t *testing.T) {
	s := newTestServer(t, nil)
	body := model.JobSpec{UserID: "u1", Email: "u1@example.com", Subject: "Hi"}

	w := s.do(t, http.MethodPost, "/api/v1/email-jobs", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/email-jobs", "garbage", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/email-jobs", token(t, "u1", rbac.RoleUser), body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, s.store.Jobs())
}

func TestEnqueueAndGetJob(t *testing.T) {
	s := newTestServer(t, nil)
	svc := token(t, "enrollment-app", rbac.RoleService)

	w := s.do(t, http.MethodPost, "/api/v1/email-jobs", svc, model.JobSpec{
		Type: model.EmailTypeBatchAnnouncement, UserID: "u1", Email: "u1@example.com", Subject: "Hi",
	}, trace.HeaderName, "trace-xyz")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "trace-xyz", w.Header().Get(trace.HeaderName))

	var resp struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "QUEUED", resp.Status)

	w = s.do(t, http.MethodGet, "/api/v1/email-jobs/"+resp.JobID, token(t, "u1", rbac.RoleUser), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var job model.EmailJob
	decode(t, w, &job)
	assert.Equal(t, model.JobStatusQueued, job.Status)

	w = s.do(t, http.MethodGet, "/api/v1/email-jobs/"+resp.JobID, token(t, "u2", rbac.RoleUser), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/email-jobs/nope", svc, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnqueue_ValidationError(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodPost, "/api/v1/email-jobs", token(t, "app", rbac.RoleService),
		model.JobSpec{Email: "x@example.com"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]string
	decode(t, w, &resp)
	assert.Equal(t, "user_id", resp["field"])
}

func TestEnqueueBatch(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodPost, "/api/v1/email-jobs/batch", token(t, "app", rbac.RoleService), gin.H{
		"jobs": []model.JobSpec{
			{UserID: "u1", Email: "u1@example.com"},
			{UserID: "u2", Email: "u2@example.com"},
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		JobIDs []string `json:"job_ids"`
		Count  int      `json:"count"`
	}
	decode(t, w, &resp)
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, s.store.Jobs(), 2)
}

func TestEnqueueTemplated(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodPost, "/api/v1/email-jobs/templated", token(t, "app", rbac.RoleService), gin.H{
		"type":      model.EmailTypePaymentNotification,
		"recipient": gin.H{"user_id": "u1", "email": "u1@example.com"},
		"data":      gin.H{"CourseName": "Go 101", "Amount": 99.0, "Currency": "usd", "Status": "APPROVED"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	jobs := s.store.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "[Academy] Payment approved: Go 101", jobs[0].Subject)
	assert.Contains(t, jobs[0].HTML, "99.00 USD")

	w = s.do(t, http.MethodPost, "/api/v1/email-jobs/templated", token(t, "app", rbac.RoleService), gin.H{
		"type":      model.EmailTypeGeneric,
		"recipient": gin.H{"user_id": "u1", "email": "u1@example.com"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDispatchEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	job := model.NewEmailJob(model.JobSpec{UserID: "u1", Email: "u1@example.com"}, time.Now().Add(-time.Second))
	require.NoError(t, s.store.Insert(context.Background(), job))

	w := s.do(t, http.MethodPost, "/internal/dispatch", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/internal/dispatch", "", nil, dispatchTokenHeader, "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/internal/dispatch", token(t, "u1", rbac.RoleUser), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/internal/dispatch?limit=abc", "", nil, dispatchTokenHeader, testDispatchToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/internal/dispatch?limit=5", "", nil, dispatchTokenHeader, testDispatchToken)
	require.Equal(t, http.StatusOK, w.Code)
	var res dispatch.Result
	decode(t, w, &res)
	assert.Equal(t, dispatch.Result{Processed: 1, Sent: 1}, res)
	assert.Equal(t, 1, s.sender.sent)

	w = s.do(t, http.MethodPost, "/internal/dispatch", token(t, "app", rbac.RoleService), nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &res)
	assert.Equal(t, 0, res.Processed)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	admin := token(t, "admin-1", rbac.RoleAdmin)

	w := s.do(t, http.MethodGet, "/api/v1/admin/email-statistics", token(t, "app", rbac.RoleService), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/admin/email-statistics", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats model.EmailStatistics
	decode(t, w, &stats)
	assert.Equal(t, 100, stats.SystemQuota.Limit)
	assert.Equal(t, 5, stats.UserLimit)

	job := model.NewEmailJob(model.JobSpec{UserID: "u1", Email: "u1@example.com"}, time.Now())
	require.NoError(t, s.store.Insert(context.Background(), job))
	w = s.do(t, http.MethodPost, "/api/v1/admin/email-jobs/"+job.ID+"/retry", admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/admin/email-jobs/missing/retry", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodGet, "/healthz", "", nil)

	w := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_request_duration_seconds")
}
