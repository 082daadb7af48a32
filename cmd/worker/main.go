package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/relaydesk/bulk-gateway/internal/config"
	gateway "github.com/relaydesk/bulk-gateway/internal/gateways"
	"github.com/relaydesk/bulk-gateway/internal/model"
	"github.com/relaydesk/bulk-gateway/internal/processor"
	"github.com/relaydesk/bulk-gateway/internal/repository"
	"github.com/relaydesk/bulk-gateway/pkg/logger"
	"github.com/relaydesk/bulk-gateway/pkg/pg"
	"github.com/relaydesk/bulk-gateway/pkg/prom"
	"github.com/relaydesk/bulk-gateway/pkg/redis"
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

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	cfg := &gateway.Config{
		Endpoints: map[model.Channel]string{
			model.ChannelWhatsApp: config.Get().ProviderWhatsAppUrl,
			model.ChannelSMS:      config.Get().ProviderSMSUrl,
			model.ChannelEmail:    config.Get().ProviderEmailUrl,
			model.ChannelVoice:    config.Get().ProviderVoiceUrl,
		},
		Timeout:         time.Second * 5,
		MaxConns:        1000,
		ReadBufferSize:  1024 * 4,
		WriteBufferSize: 1024 * 4,
	}
	client, err := gateway.NewClient(cfg)
	if err != nil {
		logger.Error("failed to create gateway", "error", err)
		return
	}

	rateGate := processor.NewRateGate(map[model.Channel]int{
		model.ChannelWhatsApp: config.Get().RateWhatsAppPerSec,
		model.ChannelSMS:      config.Get().RateSMSPerSec,
		model.ChannelEmail:    config.Get().RateEmailPerSec,
		model.ChannelVoice:    config.Get().RateVoicePerSec,
	})

	jobRepo := repository.NewJobRepository(db)
	recipientRepo := repository.NewRecipientRepository(db)
	contactRepo := repository.NewContactRepository(db)

	metrics := processor.NewServiceMetrics()

	service, err := processor.NewProcessorService(redisAdap, metrics)
	if err != nil {
		logger.Error("failed to create the processor", "error", err)
		return
	}
	service.RegisterProcessor(processor.NewChunkProcessor(jobRepo, recipientRepo, contactRepo, client, rateGate, metrics))

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
		prom.ListenAndServer(":9100", "/metrics")
	}()

	go func() {
		err := service.Start()
		if err != nil {
			logger.Error("failed to start processor", "error", err)
		}
	}()

	select {
	case <-c:
		service.Stop()
		logger.Sync() //nolint
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
