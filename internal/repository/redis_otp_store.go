package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dhr/workerauth/internal/models"
)

// expiredGrace keeps a record readable for a while after its logical expiry so
// a late attempt is reported as expired rather than as never requested.
const expiredGrace = time.Minute

var attemptScript = redis.NewScript(`
local fields = redis.call("HMGET", KEYS[1], "expires_at", "attempts", "code_hash", "issued_at", "phone")
if not fields[1] then
	return {"MISSING"}
end

if tonumber(ARGV[1]) > tonumber(fields[1]) then
	redis.call("DEL", KEYS[1])
	return {"EXPIRED", tonumber(fields[2]), fields[3], fields[4], fields[1], fields[5]}
end

local attempts = redis.call("HINCRBY", KEYS[1], "attempts", 1)
if attempts > tonumber(ARGV[2]) then
	redis.call("DEL", KEYS[1])
	return {"EXHAUSTED", attempts, fields[3], fields[4], fields[1], fields[5]}
end

return {"OK", attempts, fields[3], fields[4], fields[1], fields[5]}
`)

var consumeScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "code_hash") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisOTPStore keeps one hash per phone under otp:<phone>.
type RedisOTPStore struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisOTPStore(client *redis.Client, logger *logrus.Logger) *RedisOTPStore {
	return &RedisOTPStore{
		client: client,
		logger: logger,
	}
}

func (s *RedisOTPStore) Put(ctx context.Context, rec models.OTPRecord) error {
	key := otpKey(rec.Phone)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"phone", rec.Phone,
			"code_hash", rec.CodeHash,
			"attempts", rec.Attempts,
			"issued_at", rec.IssuedAt.UnixMilli(),
			"expires_at", rec.ExpiresAt.UnixMilli(),
		)
		pipe.PExpireAt(ctx, key, rec.ExpiresAt.Add(expiredGrace))
		return nil
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to store OTP in Redis")
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	return nil
}

func (s *RedisOTPStore) Get(ctx context.Context, phone string) (*models.OTPRecord, error) {
	values, err := s.client.HGetAll(ctx, otpKey(phone)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}
	if len(values) == 0 {
		return nil, ErrOTPNotFound
	}

	attempts, err := strconv.Atoi(values["attempts"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse OTP attempts: %w", err)
	}
	issuedAt, err := parseMillis(values["issued_at"])
	if err != nil {
		return nil, err
	}
	expiresAt, err := parseMillis(values["expires_at"])
	if err != nil {
		return nil, err
	}

	return &models.OTPRecord{
		Phone:     values["phone"],
		CodeHash:  values["code_hash"],
		Attempts:  attempts,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *RedisOTPStore) Delete(ctx context.Context, phone string) error {
	if err := s.client.Del(ctx, otpKey(phone)).Err(); err != nil {
		return fmt.Errorf("failed to delete OTP: %w", err)
	}
	return nil
}

func (s *RedisOTPStore) Attempt(ctx context.Context, phone string, now time.Time, maxAttempts int) (*models.OTPRecord, AttemptOutcome, error) {
	vals, err := attemptScript.Run(ctx, s.client, []string{otpKey(phone)}, now.UnixMilli(), maxAttempts).Slice()
	if err != nil {
		s.logger.WithError(err).Error("Failed to run OTP attempt script")
		return nil, AttemptAllowed, fmt.Errorf("failed to register OTP attempt: %w", err)
	}

	status, _ := vals[0].(string)
	if status == "MISSING" {
		return nil, AttemptAllowed, ErrOTPNotFound
	}
	if len(vals) != 6 {
		return nil, AttemptAllowed, fmt.Errorf("unexpected attempt script reply: %v", vals)
	}

	rec, err := recordFromScript(vals)
	if err != nil {
		return nil, AttemptAllowed, err
	}

	switch status {
	case "OK":
		return rec, AttemptAllowed, nil
	case "EXPIRED":
		return rec, AttemptExpired, nil
	case "EXHAUSTED":
		return rec, AttemptExhausted, nil
	default:
		return nil, AttemptAllowed, fmt.Errorf("unexpected attempt script status %q", status)
	}
}

func (s *RedisOTPStore) Consume(ctx context.Context, phone, codeHash string) (bool, error) {
	deleted, err := consumeScript.Run(ctx, s.client, []string{otpKey(phone)}, codeHash).Int()
	if err != nil {
		return false, fmt.Errorf("failed to consume OTP: %w", err)
	}
	return deleted > 0, nil
}

func recordFromScript(vals []interface{}) (*models.OTPRecord, error) {
	attempts, ok := vals[1].(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected attempts value %v", vals[1])
	}
	codeHash, _ := vals[2].(string)
	issuedRaw, _ := vals[3].(string)
	expiresRaw, _ := vals[4].(string)
	phone, _ := vals[5].(string)

	issuedAt, err := parseMillis(issuedRaw)
	if err != nil {
		return nil, err
	}
	expiresAt, err := parseMillis(expiresRaw)
	if err != nil {
		return nil, err
	}

	return &models.OTPRecord{
		Phone:     phone,
		CodeHash:  codeHash,
		Attempts:  int(attempts),
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse OTP timestamp %q: %w", raw, err)
	}
	return time.UnixMilli(ms), nil
}

func otpKey(phone string) string {
	return fmt.Sprintf("otp:%s", phone)
}
