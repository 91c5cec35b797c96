package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dhr/workerauth/internal/middleware"
	"github.com/dhr/workerauth/internal/service"
)

const maxBodyBytes = 4 << 10

type AuthHandlers struct {
	otpService          *service.OTPService
	refreshTokenService *service.RefreshTokenService
	logger              *logrus.Logger
}

func NewAuthHandlers(
	otpService *service.OTPService,
	refreshTokenService *service.RefreshTokenService,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		otpService:          otpService,
		refreshTokenService: refreshTokenService,
		logger:              logger,
	}
}

type SendOTPRequest struct {
	Phone string `json:"phone"`
}

type SendOTPResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
	OTP       string    `json:"otp,omitempty"`
}

type VerifyOTPRequest struct {
	Phone string     `json:"phone"`
	OTP   codeString `json:"otp"`
}

type VerifyOTPResponse struct {
	Success      bool         `json:"success"`
	Message      string       `json:"message"`
	Token        string       `json:"token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	User         UserResponse `json:"user"`
}

type UserResponse struct {
	ID    string `json:"id"`
	Phone string `json:"phone"`
	Role  string `json:"role"`
	Name  string `json:"name,omitempty"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RefreshTokenResponse struct {
	Success      bool   `json:"success"`
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// codeString accepts the code as a JSON string or a JSON number.
type codeString string

func (c *codeString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = codeString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = codeString(n.String())
	return nil
}

func (h *AuthHandlers) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if !h.decode(w, r, &req, service.MsgPhoneFormat) {
		return
	}

	res, err := h.otpService.RequestOTP(r.Context(), req.Phone)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, SendOTPResponse{
		Success:   true,
		Message:   "OTP sent",
		ExpiresAt: res.ExpiresAt,
		OTP:       res.Code,
	})
}

func (h *AuthHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if !h.decode(w, r, &req, service.MsgPhoneAndCodeReqd) {
		return
	}

	res, err := h.otpService.VerifyOTP(r.Context(), req.Phone, string(req.OTP))
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, VerifyOTPResponse{
		Success:      true,
		Message:      "OTP verified successfully",
		Token:        res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
		ExpiresIn:    res.Tokens.ExpiresIn,
		User: UserResponse{
			ID:    res.Profile.ID,
			Phone: res.Profile.Phone,
			Role:  string(res.Profile.Role),
			Name:  res.Profile.Name,
		},
	})
}

func (h *AuthHandlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if !h.decode(w, r, &req, "refresh_token required") {
		return
	}
	if req.RefreshToken == "" {
		h.respondWithError(w, http.StatusBadRequest, "refresh_token required")
		return
	}

	pair, err := h.refreshTokenService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, RefreshTokenResponse{
		Success:      true,
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	})
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	var req RefreshTokenRequest
	if !h.decode(w, r, &req, "refresh_token required") {
		return
	}
	if req.RefreshToken == "" {
		h.respondWithError(w, http.StatusBadRequest, "refresh_token required")
		return
	}

	if err := h.refreshTokenService.Logout(r.Context(), req.RefreshToken, claims.Subject); err != nil {
		h.respondWithServiceError(w, r, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Logged out successfully",
	})
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		h.respondWithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	h.respondWithJSON(w, http.StatusOK, UserResponse{
		ID:    claims.Subject,
		Phone: claims.Phone,
		Role:  string(claims.Role),
	})
}

func (h *AuthHandlers) Health(w http.ResponseWriter, _ *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads the JSON body into dst. An empty body or a field of the wrong
// type is reported with missingMsg when one is given, since the request then
// lacks a usable value for that field.
func (h *AuthHandlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}, missingMsg string) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	h.logger.WithError(err).WithField("request_id", middleware.RequestIDFromContext(r.Context())).Debug("Invalid request body")

	var typeErr *json.UnmarshalTypeError
	if missingMsg != "" && (errors.Is(err, io.EOF) || errors.As(err, &typeErr)) {
		h.respondWithError(w, http.StatusBadRequest, missingMsg)
		return false
	}
	h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
	return false
}

// respondWithServiceError maps service failures onto status codes. Anything
// unrecognised is logged and reported as a generic 500.
func (h *AuthHandlers) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		h.respondWithError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, service.ErrPhoneNotRegistered):
		h.respondWithError(w, http.StatusUnauthorized, "Phone number not registered")
	case errors.Is(err, service.ErrDelivery):
		h.respondWithError(w, http.StatusInternalServerError, "Failed to send SMS")
	case errors.Is(err, service.ErrNotRequested):
		h.respondWithError(w, http.StatusBadRequest, "No OTP requested for this phone")
	case errors.Is(err, service.ErrExpired):
		h.respondWithError(w, http.StatusBadRequest, "OTP expired")
	case errors.Is(err, service.ErrIncorrectCode):
		h.respondWithError(w, http.StatusBadRequest, "Incorrect OTP")
	case errors.Is(err, service.ErrTooManyAttempts):
		h.respondWithError(w, http.StatusForbidden, "Too many attempts")
	case errors.Is(err, service.ErrUserNotFound):
		h.respondWithError(w, http.StatusNotFound, "User not found in database")
	case errors.Is(err, service.ErrInvalidToken):
		h.respondWithError(w, http.StatusUnauthorized, "Invalid refresh token")
	case errors.Is(err, service.ErrTokenRevoked):
		h.respondWithError(w, http.StatusUnauthorized, "Refresh token has been revoked")
	default:
		h.logger.WithError(err).WithFields(logrus.Fields{
			"request_id": middleware.RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
		}).Error("Request failed")
		h.respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.WithError(err).Warn("Failed to write response")
	}
}

func (h *AuthHandlers) respondWithError(w http.ResponseWriter, status int, message string) {
	h.respondWithJSON(w, status, ErrorResponse{Error: message})
}
