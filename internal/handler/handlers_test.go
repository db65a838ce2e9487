package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"redis-limiter/internal/domain"
	"redis-limiter/internal/logger"
	"redis-limiter/internal/metrics"
	"redis-limiter/internal/service"
	"redis-limiter/internal/storage"
)

// MockLimiter é um mock do domain.Limiter para testes
type MockLimiter struct {
	mock.Mock
}

func (m *MockLimiter) Hit(ctx context.Context, key, element string) error {
	args := m.Called(ctx, key, element)
	return args.Error(0)
}

func (m *MockLimiter) Check(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockLimiter) Reset(ctx context.Context, key string, ruleNames ...string) error {
	args := m.Called(ctx, key, ruleNames)
	return args.Error(0)
}

func (m *MockLimiter) Status(ctx context.Context, key string) ([]domain.RuleStatus, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RuleStatus), args.Error(1)
}

func (m *MockLimiter) Name() string {
	return m.Called().String(0)
}

func (m *MockLimiter) Rules() []domain.LimitRule {
	return m.Called().Get(0).([]domain.LimitRule)
}

// MockHealth é um mock do HealthChecker
type MockHealth struct {
	mock.Mock
}

func (m *MockHealth) Health(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func testLogger() domain.Logger {
	return logger.NewLoggerWithOutput("error", "json", io.Discard)
}

func setupTestRouter(limiter domain.Limiter, opts Options) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	NewHandlers(limiter, testLogger(), opts).SetupRoutes(router)
	return router
}

func doRequest(router *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.RemoteAddr = "192.168.1.1:12345"

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthHandler(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		health := new(MockHealth)
		health.On("Health", mock.Anything).Return(nil)

		w := doRequest(setupTestRouter(new(MockLimiter), Options{Health: health}), http.MethodGet, "/health", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "healthy", decodeBody(t, w)["status"])
	})

	t.Run("unhealthy", func(t *testing.T) {
		health := new(MockHealth)
		health.On("Health", mock.Anything).Return(errors.New("connection refused"))

		w := doRequest(setupTestRouter(new(MockLimiter), Options{Health: health}), http.MethodGet, "/health", nil)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "unhealthy", body["status"])
		assert.Equal(t, "connection refused", body["error"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	m.ObserveHit("api", metrics.OutcomeAllowed)

	w := doRequest(setupTestRouter(new(MockLimiter), Options{Gatherer: registry}), http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `limiter="api"`)
}

func TestAdminLimitsHandler(t *testing.T) {
	mockLimiter := new(MockLimiter)
	mockLimiter.On("Name").Return("api")
	mockLimiter.On("Rules").Return([]domain.LimitRule{
		{Name: "perSecond", Limit: 5, Window: 1},
		{Name: "perMinute", Limit: 100, Window: 60, BlockDuration: 300},
	})

	w := doRequest(setupTestRouter(mockLimiter, Options{}), http.MethodGet, "/admin/limits", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "api", body["limiter"])

	limits, ok := body["limits"].([]interface{})
	require.True(t, ok)
	require.Len(t, limits, 2)
	assert.Equal(t, "perSecond", limits[0].(map[string]interface{})["name"])
}

func TestAdminStatusHandler(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		w := doRequest(setupTestRouter(new(MockLimiter), Options{}), http.MethodGet, "/admin/status", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "key parameter is required", decodeBody(t, w)["message"])
	})

	t.Run("success", func(t *testing.T) {
		mockLimiter := new(MockLimiter)
		mockLimiter.On("Name").Return("api")
		mockLimiter.On("Status", mock.Anything, "10.0.0.1").Return([]domain.RuleStatus{
			{Rule: domain.LimitRule{Name: "perMinute", Limit: 3, Window: 60}, Status: domain.StatusCounting, Count: 2, TTL: 40},
		}, nil)

		w := doRequest(setupTestRouter(mockLimiter, Options{}), http.MethodGet, "/admin/status?key=10.0.0.1", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		rules, ok := decodeBody(t, w)["rules"].([]interface{})
		require.True(t, ok)
		require.Len(t, rules, 1)

		rule := rules[0].(map[string]interface{})
		assert.Equal(t, "counting", rule["status"])
		assert.Equal(t, float64(2), rule["count"])
	})

	t.Run("store error", func(t *testing.T) {
		mockLimiter := new(MockLimiter)
		mockLimiter.On("Status", mock.Anything, "10.0.0.1").Return(nil, errors.New("timeout"))

		w := doRequest(setupTestRouter(mockLimiter, Options{}), http.MethodGet, "/admin/status?key=10.0.0.1", nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestAdminCheckHandler(t *testing.T) {
	tests := []struct {
		name           string
		checkErr       error
		expectedStatus int
		expectBlocked  bool
	}{
		{name: "not blocked", expectedStatus: http.StatusOK},
		{
			name:           "blocked",
			checkErr:       &domain.LimitExceededError{Limiter: "api", Rule: "perMinute", TTL: 12},
			expectedStatus: http.StatusOK,
			expectBlocked:  true,
		},
		{name: "store error", checkErr: errors.New("timeout"), expectedStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockLimiter := new(MockLimiter)
			mockLimiter.On("Name").Return("api")
			mockLimiter.On("Check", mock.Anything, "10.0.0.1").Return(tt.checkErr)

			w := doRequest(setupTestRouter(mockLimiter, Options{}), http.MethodGet, "/admin/check?key=10.0.0.1", nil)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus != http.StatusOK {
				return
			}

			body := decodeBody(t, w)
			assert.Equal(t, tt.expectBlocked, body["blocked"])
			if tt.expectBlocked {
				assert.Equal(t, "perMinute", body["rule"])
				assert.Equal(t, float64(12), body["ttl"])
			}
		})
	}
}

func TestAdminResetHandler(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setupMock      func(*MockLimiter)
		expectedStatus int
	}{
		{
			name:           "invalid json",
			body:           `{"key":`,
			setupMock:      func(*MockLimiter) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing key",
			body:           `{"rules":["perMinute"]}`,
			setupMock:      func(*MockLimiter) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "blank key",
			body:           `{"key":"   "}`,
			setupMock:      func(*MockLimiter) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "all rules",
			body: `{"key":"user-1"}`,
			setupMock: func(m *MockLimiter) {
				m.On("Reset", mock.Anything, "user-1", []string(nil)).Return(nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "selected rules",
			body: `{"key":"user-1","rules":["perMinute"]}`,
			setupMock: func(m *MockLimiter) {
				m.On("Reset", mock.Anything, "user-1", []string{"perMinute"}).Return(nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "empty rule list",
			body: `{"key":"user-1","rules":[]}`,
			setupMock: func(m *MockLimiter) {
				m.On("Reset", mock.Anything, "user-1", []string{}).Return(nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "store error",
			body: `{"key":"user-1"}`,
			setupMock: func(m *MockLimiter) {
				m.On("Reset", mock.Anything, "user-1", []string(nil)).Return(errors.New("timeout"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockLimiter := new(MockLimiter)
			tt.setupMock(mockLimiter)

			w := doRequest(setupTestRouter(mockLimiter, Options{}), http.MethodPost, "/admin/reset", []byte(tt.body))

			assert.Equal(t, tt.expectedStatus, w.Code)
			mockLimiter.AssertExpectations(t)
		})
	}
}

// TestRateLimiterFlow percorre o fluxo completo com storage em memória
func TestRateLimiterFlow(t *testing.T) {
	store := storage.NewMemoryStorage(testLogger())
	t.Cleanup(func() { _ = store.Close() })

	limiter, err := service.NewRateLimiterService(store, "api", []domain.RuleConfig{
		{Name: "perMinute", Limit: 2, Window: 60, BlockDuration: 30},
	}, service.WithLogger(testLogger()))
	require.NoError(t, err)

	router := setupTestRouter(limiter, Options{Health: store})

	for i := 0; i < 2; i++ {
		w := doRequest(router, http.MethodGet, "/", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doRequest(router, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))

	w = doRequest(router, http.MethodGet, "/admin/check?key=192.168.1.1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["blocked"])

	// Lista vazia não remove nada
	w = doRequest(router, http.MethodPost, "/admin/reset", []byte(`{"key":"192.168.1.1","rules":[]}`))
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/admin/check?key=192.168.1.1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeBody(t, w)["blocked"])

	w = doRequest(router, http.MethodPost, "/admin/reset", []byte(`{"key":"192.168.1.1"}`))
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/admin/check?key=192.168.1.1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["blocked"])

	w = doRequest(router, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
