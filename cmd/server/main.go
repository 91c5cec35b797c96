package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/go-co-op/gocron/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"github.com/dhr/workerauth/internal/clock"
	"github.com/dhr/workerauth/internal/config"
	"github.com/dhr/workerauth/internal/handlers"
	"github.com/dhr/workerauth/internal/hash"
	"github.com/dhr/workerauth/internal/middleware"
	"github.com/dhr/workerauth/internal/repository"
	"github.com/dhr/workerauth/internal/scheduler"
	"github.com/dhr/workerauth/internal/service"
	"github.com/dhr/workerauth/internal/sms"
)

type backends struct {
	dynamo *dynamodb.Client
	redis  *redis.Client
	pg     *pgxpool.Pool
}

func (b *backends) close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pg != nil {
		b.pg.Close()
	}
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("log_level", cfg.LogLevel).Warn("Unknown log level, using info")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := initBackends(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize backends")
	}
	defer b.close()

	otpStore, err := newOTPStore(ctx, cfg, b, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize OTP store")
	}
	users, err := newUserDirectory(ctx, cfg, b, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize user directory")
	}
	refreshStore := newRefreshTokenStore(cfg, b, logger)

	dispatcher, err := newDispatcher(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize SMS dispatcher")
	}

	hasher, err := hash.New(cfg.OTP.HashAlgorithm, cfg.OTP.HashSecret)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize OTP hasher")
	}

	jwtService, err := service.NewJWTService(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize JWT service")
	}

	clk := clock.New()
	refreshTokenService := service.NewRefreshTokenService(refreshStore, jwtService, logger)
	otpService := service.NewOTPService(otpStore, users, dispatcher, refreshTokenService, hasher, clk, &cfg.OTP, logger)

	if cfg.OTP.ExposeCode {
		logger.Warn("OTP_EXPOSE_CODE is enabled; codes are returned in responses")
	}
	if cfg.IsProduction() && cfg.SMS.Provider == config.SMSProviderLog {
		logger.Warn("SMS_PROVIDER=log in production; codes are not delivered to phones")
	}

	cron, err := scheduler.New(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to start scheduler")
	}
	if err := registerSweep(ctx, cfg, cron, otpStore, clk, logger); err != nil {
		logger.WithError(err).Fatal("Failed to register OTP sweep")
	}

	router := handlers.NewRouter(
		handlers.NewAuthHandlers(otpService, refreshTokenService, logger),
		middleware.NewAuthMiddleware(jwtService, logger),
		cfg.Server.CORSAllowedOrigins,
		logger,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":           cfg.Server.Port,
			"otp_store":      cfg.OTP.Store,
			"user_directory": cfg.Users.Directory,
			"sms_provider":   cfg.SMS.Provider,
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if err := cron.Shutdown(); err != nil {
		logger.WithError(err).Error("Error while shutting down the scheduler")
	}

	logger.Info("Server exited")
}

func initBackends(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*backends, error) {
	b := &backends{}

	if cfg.UsesDynamoDB() {
		client, err := initDynamoDB(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		b.dynamo = client
	}

	if cfg.UsesRedis() {
		client, err := initRedis(ctx, cfg, logger)
		if err != nil {
			b.close()
			return nil, err
		}
		b.redis = client
	}

	if cfg.UsesPostgres() {
		pool, err := initPostgres(ctx, cfg, logger)
		if err != nil {
			b.close()
			return nil, err
		}
		b.pg = pool
	}

	return b, nil
}

func initDynamoDB(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.DynamoDB.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.WithField("table", cfg.DynamoDB.TableName).Info("DynamoDB client initialized")
	return client, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	err := withRetry(ctx, "redis", logger, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis client initialized")
	return client, nil
}

func initPostgres(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PG_DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.Postgres.MaxConns
	poolCfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := withRetry(ctx, "postgres", logger, pool.Ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	logger.Info("Postgres pool initialized")
	return pool, nil
}

// withRetry retries fn with fibonacci backoff until it succeeds or the
// attempts run out.
func withRetry(ctx context.Context, name string, logger *logrus.Logger, fn func(context.Context) error) error {
	b := retry.NewFibonacci(200 * time.Millisecond)
	b = retry.WithCappedDuration(5*time.Second, b)
	b = retry.WithMaxRetries(5, b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("backend", name).Warn("Backend not ready, retrying")
			return retry.RetryableError(err)
		}
		return nil
	})
}

func newOTPStore(ctx context.Context, cfg *config.Config, b *backends, logger *logrus.Logger) (repository.OTPStore, error) {
	switch cfg.OTP.Store {
	case config.BackendRedis:
		return repository.NewRedisOTPStore(b.redis, logger), nil
	case config.BackendDynamoDB:
		return repository.NewOTPRepository(b.dynamo, cfg.DynamoDB.TableName, logger), nil
	case config.BackendPostgres:
		store := repository.NewPostgresOTPStore(b.pg, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return repository.NewMemoryOTPStore(), nil
	}
}

func newUserDirectory(ctx context.Context, cfg *config.Config, b *backends, logger *logrus.Logger) (repository.UserDirectory, error) {
	var dir repository.UserDirectory
	switch cfg.Users.Directory {
	case config.BackendDynamoDB:
		dir = repository.NewUserRepository(b.dynamo, cfg.DynamoDB.TableName, logger)
	case config.BackendPostgres:
		dir = repository.NewPostgresUserRepository(b.pg, logger)
	default:
		dir = repository.NewMemoryUserRepository()
	}

	if cfg.Users.Seed == "" {
		return dir, nil
	}

	registry, ok := dir.(repository.UserRegistry)
	if !ok {
		return dir, nil
	}

	seed, err := repository.ParseUserSeed(cfg.Users.Seed)
	if err != nil {
		return nil, err
	}
	for i := range seed {
		err := registry.Create(ctx, &seed[i])
		if errors.Is(err, repository.ErrUserExists) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to seed user %s: %w", seed[i].Phone, err)
		}
	}
	logger.WithField("count", len(seed)).Info("User directory seeded")

	return dir, nil
}

func newRefreshTokenStore(cfg *config.Config, b *backends, logger *logrus.Logger) repository.RefreshTokenStore {
	switch cfg.JWT.RefreshStore {
	case config.BackendRedis:
		return repository.NewRedisRefreshTokenStore(b.redis, logger)
	case config.BackendDynamoDB:
		return repository.NewRefreshTokenRepository(b.dynamo, cfg.DynamoDB.TableName, logger)
	default:
		return repository.NewMemoryRefreshTokenStore()
	}
}

func newDispatcher(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (sms.Dispatcher, error) {
	if cfg.SMS.Provider != config.SMSProviderSNS {
		return sms.NewLogDispatcher(logger, cfg.OTP.ExposeCode), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SMS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sms.NewSNSDispatcher(sns.NewFromConfig(awsCfg), cfg.SMS.SenderID, logger), nil
}

func registerSweep(
	ctx context.Context,
	cfg *config.Config,
	cron gocron.Scheduler,
	store repository.OTPStore,
	clk clock.Clocker,
	logger *logrus.Logger,
) error {
	sweeper, ok := store.(repository.Sweeper)
	if !ok || cfg.OTP.SweepInterval <= 0 {
		return nil
	}
	return scheduler.RegisterOTPSweep(ctx, cron, sweeper, clk, cfg.OTP.SweepInterval, logger)
}
