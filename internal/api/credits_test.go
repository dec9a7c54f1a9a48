package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var profileColumns = []string{"id", "email", "credits", "created_at"}

func expectProfile(mock sqlmock.Sqlmock, userID string, credits int) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, credits, created_at FROM profiles WHERE id = $1")).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows(profileColumns).AddRow(userID, userID+"@example.com", credits, time.Now()))
}

func TestDebitAmount(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty body", "", 1},
		{"invalid json", "{", 1},
		{"missing amount", `{}`, 1},
		{"null amount", `{"amount":null}`, 1},
		{"whole amount", `{"amount":3}`, 3},
		{"fraction rounds up", `{"amount":2.1}`, 3},
		{"zero", `{"amount":0}`, 0},
		{"negative", `{"amount":-4}`, 0},
		{"huge", `{"amount":1e20}`, 2147483647},
		{"numeric string", `{"amount":"5"}`, 5},
		{"padded fraction string", `{"amount":" 1.5 "}`, 2},
		{"non-numeric string", `{"amount":"five"}`, 0},
		{"empty string", `{"amount":""}`, 0},
		{"boolean", `{"amount":true}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, debitAmount([]byte(tt.body)))
		})
	}
}

func TestGetCredits(t *testing.T) {
	env := setupTestServer(t)
	expectProfile(env.mock, testUserID, 7)

	req := httptest.NewRequest(http.MethodGet, "/api/credits", nil)
	req.Header.Set("Authorization", "Bearer "+userToken(t, testUserID))
	resp, err := env.server.app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(7), decodeJSON(t, resp)["credits"])
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestGetCreditsCreatesProfile(t *testing.T) {
	env := setupTestServer(t)
	env.mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, credits, created_at FROM profiles WHERE id = $1")).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows(profileColumns))
	env.mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO profiles (id, email, credits)")).
		WithArgs(testUserID, testUserID+"@example.com", 10).
		WillReturnRows(sqlmock.NewRows(profileColumns).AddRow(testUserID, testUserID+"@example.com", 10, time.Now()))

	req := httptest.NewRequest(http.MethodGet, "/api/credits", nil)
	req.Header.Set("Authorization", "Bearer "+userToken(t, testUserID))
	resp, err := env.server.app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(10), decodeJSON(t, resp)["credits"])
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCreditsRequiresToken(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing", "", "missing_token"},
		{"garbage", "Bearer not-a-jwt", "invalid_token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/credits", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := env.server.app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, tt.code, decodeJSON(t, resp)["error"])
		})
	}
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestDebitCredits(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		amount  int
		balance int
	}{
		{"default amount", "", 1, 4},
		{"explicit amount", `{"amount":3}`, 3, 2},
		{"clamped at zero", `{"amount":9}`, 9, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t)
			expectProfile(env.mock, testUserID, 5)
			env.mock.ExpectQuery(regexp.QuoteMeta("UPDATE profiles SET credits = GREATEST(credits - $2, 0)")).
				WithArgs(testUserID, tt.amount).
				WillReturnRows(sqlmock.NewRows([]string{"credits"}).AddRow(tt.balance))

			req := httptest.NewRequest(http.MethodPost, "/api/credits", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+userToken(t, testUserID))
			resp, err := env.server.app.Test(req)
			require.NoError(t, err)

			assert.Equal(t, fiber.StatusOK, resp.StatusCode)
			assert.Equal(t, float64(tt.balance), decodeJSON(t, resp)["credits"])
			assert.NoError(t, env.mock.ExpectationsWereMet())
		})
	}
}

func TestDebitCreditsDatabaseError(t *testing.T) {
	env := setupTestServer(t)
	expectProfile(env.mock, testUserID, 5)
	env.mock.ExpectQuery(regexp.QuoteMeta("UPDATE profiles SET credits = GREATEST")).
		WillReturnError(errors.New("connection reset"))

	req := httptest.NewRequest(http.MethodPost, "/api/credits", nil)
	req.Header.Set("Authorization", "Bearer "+userToken(t, testUserID))
	resp, err := env.server.app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "profiles_update_failed", decodeJSON(t, resp)["error"])
}
