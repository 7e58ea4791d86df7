package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/zawadi/giving-gateway/internal/config"
	gateway "github.com/zawadi/giving-gateway/internal/gateways"
	"github.com/zawadi/giving-gateway/internal/handlers"
	"github.com/zawadi/giving-gateway/internal/queue"
	"github.com/zawadi/giving-gateway/internal/repository"
	"github.com/zawadi/giving-gateway/internal/services"
	xhttp "github.com/zawadi/giving-gateway/pkg/http"
	"github.com/zawadi/giving-gateway/pkg/logger"
	"github.com/zawadi/giving-gateway/pkg/pg"
	"github.com/zawadi/giving-gateway/pkg/prom"
	"github.com/zawadi/giving-gateway/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 35)) // longer than the STK push timeout
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	receiptQueue, err := queue.NewQueue(redisAdap, queue.QueueConfig{
		Name:              config.Get().QueueName,
		ConsumerGroup:     config.Get().QueueConsumerGroup,
		ConsumerName:      config.Get().QueueConsumerName,
		MaxRetries:        config.Get().QueueMaxRetries,
		VisibilityTimeout: config.Get().QueueVisibilityTimeout,
		PollInterval:      config.Get().QueuePollInterval,
		BatchSize:         config.Get().QueueBatchSize,
		MaxLen:            config.Get().QueueMaxLen,
		EnableDLQ:         config.Get().QueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating queue", "error", err)
		return
	}

	mpesaClient, err := gateway.NewMpesaClient(&gateway.MpesaConfig{
		BaseURL:        config.Get().MpesaBaseUrl,
		ConsumerKey:    config.Get().MpesaConsumerKey,
		ConsumerSecret: config.Get().MpesaConsumerSecret,
		ShortCode:      config.Get().MpesaShortCode,
		Passkey:        config.Get().MpesaPasskey,
		CallbackURL:    config.Get().MpesaCallbackUrl,
		MaxRetries:     3,
		RetryDelay:     time.Millisecond * 100,
	})
	if err != nil {
		logger.Error("failed to create mpesa client", "error", err)
		return
	}

	contributionRepo := repository.NewContributionRepository(db)
	memberRepo := repository.NewMemberRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	// services
	contributionService := services.NewContributionService(
		contributionRepo,
		memberRepo,
		categoryRepo,
		paymentRepo,
		db,
		mpesaClient,
		receiptQueue,
		config.Get().ContributionMinAmountCents,
		config.Get().ContributionMaxCategories,
	)
	paymentService := services.NewPaymentService(paymentRepo, contributionRepo, memberRepo, categoryRepo, receiptQueue)
	healthService := services.NewHealthService(db, redisAdap)

	// v1 handlers
	contributionHandler := handlers.NewContributionHandler(contributionService)
	callbackHandler := handlers.NewCallbackHandler(paymentService)
	healthHandler := handlers.NewHealthHandler(healthService)

	g := s.Router.Group("/api/v1")
	handlers.RegisterContributionRoutes(g, contributionHandler)
	handlers.RegisterCallbackRoutes(g, callbackHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(":9101", "/metrics")
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
