package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"chatcore/internal/app"
	"chatcore/internal/config"
	"chatcore/internal/ratelimit"
	"chatcore/internal/server"
	"chatcore/internal/servicetoken"
	"chatcore/internal/usertoken"
	"chatcore/internal/util"
	"chatcore/pkg/queue"
	"chatcore/pkg/storage"
	"chatcore/pkg/webhook"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	webhookTolerance, err := config.ParseDuration(cfg.WebhookTolerance, 5*time.Minute)
	if err != nil {
		log.Fatalf("failed to parse webhook tolerance: %v", err)
	}
	jobStaleAfter, err := config.ParseDuration(cfg.JobStaleAfter, 10*time.Minute)
	if err != nil {
		log.Fatalf("failed to parse job stale-after: %v", err)
	}
	reclaimInterval, err := config.ParseDuration(cfg.JobReclaimInterval, time.Minute)
	if err != nil {
		log.Fatalf("failed to parse job reclaim interval: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	verifier, err := webhook.NewVerifier(webhook.VerifierOptions{
		Secret:    cfg.WebhookSecret,
		Tolerance: webhookTolerance,
	})
	if err != nil {
		log.Fatalf("failed to init webhook verifier: %v", err)
	}

	userTokens, err := usertoken.NewVerifier(usertoken.Config{
		Issuer:   cfg.IdentityIssuer,
		JWKSURL:  cfg.IdentityJWKSURL,
		Audience: cfg.IdentityAudience,
	})
	if err != nil {
		log.Fatalf("failed to init user token verifier: %v", err)
	}

	var serviceTokens *servicetoken.Verifier
	if cfg.ServiceJWTPublicKeyPath != "" || cfg.ServiceJWTVerifyKeys != "" {
		verifyKeys, err := servicetoken.ParseVerifyPublicKeys(cfg.ServiceJWTVerifyKeys)
		if err != nil {
			log.Fatalf("failed to parse service verify keys: %v", err)
		}
		serviceTokens, err = servicetoken.NewVerifierWithOptions(servicetoken.VerifierOptions{
			PublicKeyPath:      cfg.ServiceJWTPublicKeyPath,
			VerifyPublicKeyMap: verifyKeys,
			DefaultKeyID:       cfg.ServiceJWTKeyID,
			Audience:           cfg.ServiceJWTAudience,
			AllowedIssuers:     cfg.ServiceJWTIssuers,
		})
		if err != nil {
			log.Fatalf("failed to init service token verifier: %v", err)
		}
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" && cfg.RateLimitPerMin > 0 {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "chatcore:ratelimit", cfg.RateLimitPerMin, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	var publisher queue.Publisher
	if cfg.AMQPURL != "" {
		publisher, err = queue.NewAMQPPublisher(queue.AMQPConfig{
			URL:      cfg.AMQPURL,
			Exchange: cfg.AMQPExchange,
		})
		if err != nil {
			log.Fatalf("failed to init amqp publisher: %v", err)
		}
		defer publisher.Close()
	}

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		objects, err = storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:        cfg.DatabaseURL,
		Publisher:          publisher,
		Objects:            objects,
		InitialCreditGrant: cfg.InitialCreditGrant,
		JobStaleAfter:      jobStaleAfter,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer := server.New(server.Config{
		App:           appCore,
		Webhook:       verifier,
		UserTokens:    userTokens,
		ServiceTokens: serviceTokens,
		Limiter:       limiter,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return appCore.RunJobReclaimer(ctx, reclaimInterval)
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		logger.Error("server error", "err", err)
	}
}
