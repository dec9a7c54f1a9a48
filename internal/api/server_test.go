package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/IBM/sarama"
	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basilysf1709/file-renamer-ai/internal/config"
	"github.com/basilysf1709/file-renamer-ai/pkg/database"
)

const (
	testJWTSecret = "test-secret"
	testUserID    = "user-1"
)

// MockProducer simulates Kafka producer for testing
type MockProducer struct {
	sarama.SyncProducer
	mu       sync.Mutex
	messages []*sarama.ProducerMessage
}

func (m *MockProducer) SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return 0, 0, nil
}

func (m *MockProducer) Close() error {
	return nil
}

// fakeUpstream records what the gateway forwards to the job API.
type fakeUpstream struct {
	mu       sync.Mutex
	requests []*http.Request
	forms    []*multipart.Form
	status   int
	body     string
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Method == http.MethodPost {
		if err := r.ParseMultipartForm(32 << 20); err == nil {
			f.forms = append(f.forms, r.MultipartForm)
		}
	}
	f.requests = append(f.requests, r)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.status)
	io.WriteString(w, f.body)
}

func (f *fakeUpstream) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type testEnv struct {
	server   *Server
	mock     sqlmock.Sqlmock
	redis    *miniredis.Miniredis
	producer *MockProducer
	upstream *fakeUpstream
}

func testConfig(upstreamURL string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:           ":8080",
			Environment:    "development",
			MaxRequests:    1000,
			RequestTimeout: time.Minute,
			BodyLimit:      32 << 20,
		},
		Kafka:    config.KafkaConfig{Topic: "test-topic"},
		Redis:    config.RedisConfig{JobTTL: time.Hour},
		Upstream: config.UpstreamConfig{BaseURL: upstreamURL, APIKey: "server-key", Timeout: 5 * time.Second},
		Supabase: config.SupabaseConfig{JWTSecret: testJWTSecret},
		Stripe:   config.StripeConfig{WebhookSecret: "whsec_test", WebhookTolerance: 5 * time.Minute},
		Billing: config.BillingConfig{
			StartingCredits: 10,
			Tier1Cents:      1000, Tier1Credits: 1000,
			Tier2Cents: 10000, Tier2Credits: 10000,
		},
		Image: config.ImageConfig{MinSide: 224, Tile: 28},
	}
}

// setupTestServer initializes a test instance of the API server.
func setupTestServer(t *testing.T) *testEnv {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	up := &fakeUpstream{status: http.StatusOK, body: `{"job_id":"job-1","status":"queued","count":3}`}
	upSrv := httptest.NewServer(up)
	t.Cleanup(upSrv.Close)

	producer := &MockProducer{}
	clients := &database.Clients{DB: sqlx.NewDb(mockDB, "sqlmock"), Redis: redisClient}

	server, err := NewServer(testConfig(upSrv.URL), clients, producer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	return &testEnv{server: server, mock: mock, redis: mr, producer: producer, upstream: up}
}

func userToken(t *testing.T, sub string) string {
	claims := jwt.MapClaims{
		"sub":   sub,
		"email": sub + "@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func pngBytes(t *testing.T, w, h int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{G: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type upload struct {
	field, name string
	data        []byte
}

func multipartBody(t *testing.T, fields map[string]string, files []upload) (*bytes.Buffer, string) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.name+`"`)
		h.Set("Content-Type", "image/png")
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	env := setupTestServer(t)

	resp, err := env.server.app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeJSON(t, resp)["ok"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t)
	env.server.metrics.IncImageNormalizeFailure("decode_config")

	resp, err := env.server.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `renamer_image_normalize_failures_total{reason="decode_config"} 1`)
}

func TestUnknownRouteUsesErrorEnvelope(t *testing.T) {
	env := setupTestServer(t)

	resp, err := env.server.app.Test(httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decodeJSON(t, resp)["error"])
}

func TestServerWithoutBackends(t *testing.T) {
	cfg := testConfig("")
	cfg.Upstream = config.UpstreamConfig{}
	server, err := NewServer(cfg, &database.Clients{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	tests := []struct {
		method, path string
		token        bool
	}{
		{http.MethodGet, "/api/credits", true},
		{http.MethodGet, "/api/credits", false},
		{http.MethodPost, "/api/credits", false},
		{http.MethodPost, "/api/jobs/rename", true},
		{http.MethodPost, "/api/jobs/rename", false},
		{http.MethodGet, "/api/jobs/job-1", false},
		{http.MethodGet, "/api/jobs/job-1/progress", true},
		{http.MethodPost, "/api/preview", false},
		{http.MethodPost, "/api/webhooks/stripe", true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s token=%t", tt.method, tt.path, tt.token), func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token {
				req.Header.Set("Authorization", "Bearer "+userToken(t, testUserID))
			}
			resp, err := server.app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
			assert.Equal(t, "server_not_configured", decodeJSON(t, resp)["error"])
		})
	}
}

func TestServerWithoutAuth(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	cfg := testConfig("http://upstream.invalid")
	cfg.Supabase = config.SupabaseConfig{}
	clients := &database.Clients{DB: sqlx.NewDb(mockDB, "sqlmock")}
	server, err := NewServer(cfg, clients, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/credits", nil)
	resp, err := server.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "server_not_configured", decodeJSON(t, resp)["error"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
