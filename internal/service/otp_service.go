package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/dhr/workerauth/internal/clock"
	"github.com/dhr/workerauth/internal/config"
	"github.com/dhr/workerauth/internal/hash"
	"github.com/dhr/workerauth/internal/models"
	"github.com/dhr/workerauth/internal/repository"
	"github.com/dhr/workerauth/internal/sms"
)

const (
	MsgPhoneFormat      = "Phone required in E.164 format (e.g. +911234567890)"
	MsgPhoneAndCodeReqd = "phone and otp required"

	codeMin   = 100000
	codeRange = 900000
)

// validator's e164 tag leaves the leading plus optional.
var rePhoneE164 = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

// TokenIssuer mints credentials for a verified account.
type TokenIssuer interface {
	Issue(ctx context.Context, profile *models.UserProfile) (*models.TokenPair, error)
}

type IssueResult struct {
	ExpiresAt time.Time
	MessageID string
	// Code is only set when the service runs with ExposeCode.
	Code string
}

type AuthResult struct {
	Tokens  *models.TokenPair
	Profile *models.UserProfile
}

type phoneInput struct {
	Phone string `validate:"required,phone_e164"`
}

type OTPService struct {
	store    repository.OTPStore
	users    repository.UserDirectory
	sms      sms.Dispatcher
	tokens   TokenIssuer
	hasher   hash.Hasher
	clock    clock.Clocker
	validate *validator.Validate
	random   io.Reader
	cfg      *config.OTPConfig
	logger   *logrus.Logger
}

func NewOTPService(
	store repository.OTPStore,
	users repository.UserDirectory,
	dispatcher sms.Dispatcher,
	tokens TokenIssuer,
	hasher hash.Hasher,
	clk clock.Clocker,
	cfg *config.OTPConfig,
	logger *logrus.Logger,
) *OTPService {
	return &OTPService{
		store:    store,
		users:    users,
		sms:      dispatcher,
		tokens:   tokens,
		hasher:   hasher,
		clock:    clk,
		validate: newValidator(),
		random:   rand.Reader,
		cfg:      cfg,
		logger:   logger,
	}
}

//nolint:errcheck // the tag name and func are static
func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterValidation("phone_e164", func(fl validator.FieldLevel) bool {
		p, ok := fl.Field().Interface().(string)
		if !ok {
			return false
		}
		return rePhoneE164.MatchString(p)
	})
	return validate
}

// RequestOTP issues a fresh code for phone and sends it by SMS. Any earlier
// code for the same phone stops being valid.
func (s *OTPService) RequestOTP(ctx context.Context, phone string) (*IssueResult, error) {
	phone = strings.TrimSpace(phone)
	if err := s.validate.Struct(phoneInput{Phone: phone}); err != nil {
		return nil, &ValidationError{Message: MsgPhoneFormat}
	}

	if s.cfg.RequireRegistered {
		user, err := s.users.FindByPhone(ctx, phone)
		if err != nil {
			return nil, fmt.Errorf("failed to look up phone: %w", err)
		}
		if user == nil {
			return nil, ErrPhoneNotRegistered
		}
	}

	code, err := generateCode(s.random)
	if err != nil {
		return nil, fmt.Errorf("failed to generate OTP: %w", err)
	}

	now := s.clock.Now()
	rec := models.OTPRecord{
		Phone:     phone,
		CodeHash:  s.hasher.Hash(code),
		Attempts:  0,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.Expiry),
	}
	if err := s.store.Put(ctx, rec); err != nil {
		s.logger.WithError(err).WithField("phone", phone).Error("Failed to store OTP")
		return nil, fmt.Errorf("failed to store OTP: %w", err)
	}

	messageID, err := s.deliver(ctx, phone, deliveryMessage(code, rec.ExpiresAt))
	if err != nil {
		s.logger.WithError(err).WithField("phone", phone).Error("Failed to send OTP")
		// The caller never saw this code, so it must not stay redeemable.
		if _, rbErr := s.store.Consume(context.WithoutCancel(ctx), phone, rec.CodeHash); rbErr != nil {
			s.logger.WithError(rbErr).WithField("phone", phone).Warn("Failed to roll back undelivered OTP")
		}
		return nil, fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	fields := logrus.Fields{
		"phone":      phone,
		"message_id": messageID,
		"expires_at": rec.ExpiresAt,
	}
	result := &IssueResult{ExpiresAt: rec.ExpiresAt, MessageID: messageID}
	if s.cfg.ExposeCode {
		result.Code = code
		fields["otp"] = code
	}
	s.logger.WithFields(fields).Info("OTP issued")

	return result, nil
}

// VerifyOTP checks code against the active challenge for phone. A correct
// code is redeemed exactly once and exchanged for tokens.
func (s *OTPService) VerifyOTP(ctx context.Context, phone, code string) (*AuthResult, error) {
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)
	if phone == "" || code == "" {
		return nil, &ValidationError{Message: MsgPhoneAndCodeReqd}
	}

	rec, outcome, err := s.store.Attempt(ctx, phone, s.clock.Now(), s.cfg.MaxAttempts)
	if errors.Is(err, repository.ErrOTPNotFound) {
		return nil, ErrNotRequested
	}
	if err != nil {
		s.logger.WithError(err).WithField("phone", phone).Error("Failed to register OTP attempt")
		return nil, fmt.Errorf("failed to register attempt: %w", err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"phone":   phone,
		"outcome": outcome.String(),
	})

	switch outcome {
	case repository.AttemptExpired:
		log.Info("OTP expired")
		return nil, ErrExpired
	case repository.AttemptExhausted:
		log.Warn("OTP attempts exhausted")
		return nil, ErrTooManyAttempts
	}

	if !s.hasher.Verify(rec.CodeHash, code) {
		log.WithField("attempts", rec.Attempts).Info("Incorrect OTP")
		return nil, ErrIncorrectCode
	}

	consumed, err := s.store.Consume(ctx, phone, rec.CodeHash)
	if err != nil {
		log.WithError(err).Error("Failed to consume OTP")
		return nil, fmt.Errorf("failed to consume OTP: %w", err)
	}
	if !consumed {
		// Another request redeemed or replaced this code first.
		return nil, ErrNotRequested
	}

	user, err := s.users.FindByPhone(ctx, phone)
	if err != nil {
		log.WithError(err).Error("Failed to look up user")
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		log.Info("Verified phone has no account")
		return nil, ErrUserNotFound
	}

	tokens, err := s.tokens.Issue(ctx, user)
	if err != nil {
		log.WithError(err).Error("Failed to issue tokens")
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}

	log.WithField("user_id", user.ID).Info("OTP verified")
	return &AuthResult{Tokens: tokens, Profile: user}, nil
}

func (s *OTPService) deliver(ctx context.Context, phone, message string) (string, error) {
	if s.cfg.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
		defer cancel()
	}
	return s.sms.Send(ctx, phone, message)
}

func deliveryMessage(code string, expiresAt time.Time) string {
	return fmt.Sprintf("Your DHR verification code is %s. It expires at %s UTC. Do not share this code.",
		code, expiresAt.UTC().Format("15:04"))
}

// generateCode returns a uniformly distributed six digit code.
func generateCode(r io.Reader) (string, error) {
	n, err := rand.Int(r, big.NewInt(codeRange))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10), nil
}
