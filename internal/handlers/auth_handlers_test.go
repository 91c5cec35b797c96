package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhr/workerauth/internal/clock"
	"github.com/dhr/workerauth/internal/config"
	"github.com/dhr/workerauth/internal/hash"
	"github.com/dhr/workerauth/internal/middleware"
	"github.com/dhr/workerauth/internal/models"
	"github.com/dhr/workerauth/internal/repository"
	"github.com/dhr/workerauth/internal/service"
)

const testPhone = "+911234567890"

type stubDispatcher struct {
	mu  sync.Mutex
	err error
}

func (d *stubDispatcher) Send(context.Context, string, string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	return "msg-1", nil
}

type testServer struct {
	handler http.Handler
	clock   *clock.Fixed
	sms     *stubDispatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	jwtSvc, err := service.NewJWTService(&config.JWTConfig{
		SecretKey:     "0123456789abcdef0123456789abcdef",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: time.Hour,
	}, logger)
	require.NoError(t, err)

	users := repository.NewMemoryUserRepository()
	require.NoError(t, users.Create(context.Background(), &models.UserProfile{ID: "u-1", Phone: testPhone, Name: "Ravi"}))

	ts := &testServer{
		clock: clock.NewFixed(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		sms:   &stubDispatcher{},
	}
	refresh := service.NewRefreshTokenService(repository.NewMemoryRefreshTokenStore(), jwtSvc, logger)
	otp := service.NewOTPService(
		repository.NewMemoryOTPStore(),
		users,
		ts.sms,
		refresh,
		hash.NewHMACSHA256("pepper"),
		ts.clock,
		&config.OTPConfig{Expiry: 5 * time.Minute, MaxAttempts: 5, ExposeCode: true},
		logger,
	)

	ts.handler = NewRouter(
		NewAuthHandlers(otp, refresh, logger),
		middleware.NewAuthMiddleware(jwtSvc, logger),
		[]string{"*"},
		logger,
	)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body, bearer string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func (ts *testServer) sendOTP(t *testing.T) string {
	t.Helper()
	status, body := ts.do(t, http.MethodPost, "/api/auth/send-otp", `{"phone":"`+testPhone+`"}`, "")
	require.Equal(t, http.StatusOK, status)
	return body["otp"].(string)
}

func TestSendOTP(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.do(t, http.MethodPost, "/api/auth/send-otp", `{"phone":"`+testPhone+`"}`, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "OTP sent", body["message"])
	assert.Len(t, body["otp"], 6)
	assert.NotEmpty(t, body["expires_at"])
}

func TestSendOTPErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		smsErr  error
		status  int
		message string
	}{
		{name: "malformed phone", body: `{"phone":"9123456"}`, status: http.StatusBadRequest, message: "Phone required in E.164 format (e.g. +911234567890)"},
		{name: "missing phone", body: `{}`, status: http.StatusBadRequest, message: "Phone required in E.164 format (e.g. +911234567890)"},
		{name: "numeric phone", body: `{"phone":911234567890}`, status: http.StatusBadRequest, message: "Phone required in E.164 format (e.g. +911234567890)"},
		{name: "empty body", body: ``, status: http.StatusBadRequest, message: "Phone required in E.164 format (e.g. +911234567890)"},
		{name: "bad json", body: `{"phone":`, status: http.StatusBadRequest, message: "Invalid request body"},
		{name: "sms failure", body: `{"phone":"` + testPhone + `"}`, smsErr: errors.New("down"), status: http.StatusInternalServerError, message: "Failed to send SMS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.sms.err = tt.smsErr

			status, body := ts.do(t, http.MethodPost, "/api/auth/send-otp", tt.body, "")
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.message, body["error"])
		})
	}
}

func TestVerifyOTP(t *testing.T) {
	ts := newTestServer(t)
	code := ts.sendOTP(t)

	status, body := ts.do(t, http.MethodPost, "/api/auth/verify-otp", `{"phone":"`+testPhone+`","otp":`+code+`}`, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "OTP verified successfully", body["message"])
	assert.NotEmpty(t, body["token"])
	assert.NotEmpty(t, body["refresh_token"])

	user := body["user"].(map[string]interface{})
	assert.Equal(t, "u-1", user["id"])
	assert.Equal(t, testPhone, user["phone"])
	assert.Equal(t, "worker", user["role"])
	assert.Equal(t, "Ravi", user["name"])

	status, body = ts.do(t, http.MethodPost, "/api/auth/verify-otp", `{"phone":"`+testPhone+`","otp":"`+code+`"}`, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "No OTP requested for this phone", body["error"])
}

func TestVerifyOTPErrors(t *testing.T) {
	for name, reqBody := range map[string]string{
		"missing fields": `{"phone":"` + testPhone + `"}`,
		"empty body":     ``,
		"boolean otp":    `{"phone":"` + testPhone + `","otp":true}`,
		"numeric phone":  `{"phone":911234567890,"otp":"123456"}`,
	} {
		t.Run(name, func(t *testing.T) {
			ts := newTestServer(t)
			status, body := ts.do(t, http.MethodPost, "/api/auth/verify-otp", reqBody, "")
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "phone and otp required", body["error"])
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		ts := newTestServer(t)
		status, body := ts.do(t, http.MethodPost, "/api/auth/verify-otp", `{"phone":"`+testPhone+`",`, "")
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "Invalid request body", body["error"])
	})

	t.Run("expired", func(t *testing.T) {
		ts := newTestServer(t)
		code := ts.sendOTP(t)
		ts.clock.Advance(6 * time.Minute)

		status, body := ts.do(t, http.MethodPost, "/api/auth/verify-otp", `{"phone":"`+testPhone+`","otp":"`+code+`"}`, "")
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "OTP expired", body["error"])
	})

	t.Run("incorrect then too many", func(t *testing.T) {
		ts := newTestServer(t)
		code := ts.sendOTP(t)
		wrong := "999999"
		if code == wrong {
			wrong = "100000"
		}

		for i := 0; i < 5; i++ {
			status, body := ts.do(t, http.MethodPost, "/api/auth/verify-otp", `{"phone":"`+testPhone+`","otp":"`+wrong+`"}`, "")
			require.Equal(t, http.StatusBadRequest, status)
			require.Equal(t, "Incorrect OTP", body["error"])
		}

		status, body := ts.do(t, http.MethodPost, "/api/auth/verify-otp", `{"phone":"`+testPhone+`","otp":"`+code+`"}`, "")
		assert.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, "Too many attempts", body["error"])
	})

	t.Run("unknown user", func(t *testing.T) {
		ts := newTestServer(t)
		status, body := ts.do(t, http.MethodPost, "/api/auth/send-otp", `{"phone":"+919876543210"}`, "")
		require.Equal(t, http.StatusOK, status)

		status, body = ts.do(t, http.MethodPost, "/api/auth/verify-otp", `{"phone":"+919876543210","otp":"`+body["otp"].(string)+`"}`, "")
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "User not found in database", body["error"])
	})
}

func TestRefreshLogoutAndMe(t *testing.T) {
	ts := newTestServer(t)
	code := ts.sendOTP(t)
	_, login := ts.do(t, http.MethodPost, "/api/auth/verify-otp", `{"phone":"`+testPhone+`","otp":"`+code+`"}`, "")
	access := login["token"].(string)
	refresh := login["refresh_token"].(string)

	status, me := ts.do(t, http.MethodGet, "/api/me", "", access)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "u-1", me["id"])
	assert.Equal(t, testPhone, me["phone"])

	status, _ = ts.do(t, http.MethodGet, "/api/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, rotated := ts.do(t, http.MethodPost, "/api/auth/refresh", `{"refresh_token":"`+refresh+`"}`, "")
	require.Equal(t, http.StatusOK, status)
	newRefresh := rotated["refresh_token"].(string)
	assert.NotEqual(t, refresh, newRefresh)

	status, body := ts.do(t, http.MethodPost, "/api/auth/logout", `{"refresh_token":"`+newRefresh+`"}`, rotated["token"].(string))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	status, body = ts.do(t, http.MethodPost, "/api/auth/refresh", `{"refresh_token":"`+newRefresh+`"}`, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Refresh token has been revoked", body["error"])
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	status, body := ts.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestCodeStringUnmarshal(t *testing.T) {
	var req VerifyOTPRequest
	require.NoError(t, json.Unmarshal([]byte(`{"otp":482913}`), &req))
	assert.Equal(t, codeString("482913"), req.OTP)

	require.NoError(t, json.Unmarshal([]byte(`{"otp":"482913"}`), &req))
	assert.Equal(t, codeString("482913"), req.OTP)

	assert.Error(t, json.Unmarshal([]byte(`{"otp":true}`), &req))
}
