package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fathima-sithara/travel-chat/internal/api"
	"github.com/fathima-sithara/travel-chat/internal/auth"
	"github.com/fathima-sithara/travel-chat/internal/chat"
	"github.com/fathima-sithara/travel-chat/internal/config"
	"github.com/fathima-sithara/travel-chat/internal/crypto"
	"github.com/fathima-sithara/travel-chat/internal/metrics"
	"github.com/fathima-sithara/travel-chat/internal/service"
	"github.com/fathima-sithara/travel-chat/internal/utils"
	"github.com/fathima-sithara/travel-chat/internal/ws"
)

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	logger, err := utils.NewLogger(cfg.App.Dev())
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := buildBackends(ctx, cfg, logger)
	if err != nil {
		logger.Fatalw("backend init", "err", err)
	}
	defer b.close()

	codec, err := crypto.NewCodec(cfg.Crypto.Secret, logger)
	if err != nil {
		logger.Fatalw("codec init", "err", err)
	}
	jv, err := auth.NewJWTValidator(cfg.JWT.Alg, cfg.JWT.PublicKeyPath, cfg.JWT.HSSecret)
	if err != nil {
		logger.Fatalw("jwt validator", "err", err)
	}

	limits := service.Limits{
		MaxImageDimension: cfg.Limits.MaxImageDimension,
		MaxImageBytes:     cfg.Limits.MaxImageBytes,
		MaxVideoBytes:     cfg.Limits.MaxVideoBytes,
		MaxVideoDuration:  cfg.MaxVideoDuration(),
		MaxVoiceBytes:     cfg.Limits.MaxVoiceBytes,
	}
	msgs := service.NewMessageStore(b.store, codec, b.messagePub, logger)
	svc := chat.Services{
		Store:         b.store,
		Directory:     service.NewDirectory(b.store, codec, b.users, b.chatPub, logger),
		Messages:      msgs,
		Tracker:       service.NewTracker(msgs),
		Composer:      service.NewComposer(b.uploader, b.users, limits, logger),
		Users:         b.users,
		MaxVoiceBytes: int(cfg.Limits.MaxVoiceBytes),
	}

	wsrv := ws.NewServer(ctx, svc, jv, cfg.Limits.MaxWSFrameBytes, logger)
	app := api.NewServer(svc, jv, api.Options{
		WS:          wsrv,
		Limiter:     api.NewRateLimiter(ctx, cfg.RateLimit.PerMinute, cfg.RateLimit.Burst, logger),
		BodyLimit:   cfg.App.BodyLimitBytes,
		AccessLog:   cfg.App.AccessLog,
		ServiceName: cfg.App.Name,
		CORSOrigins: cfg.App.CORSOrigins,
	}, logger)

	go func() {
		logger.Infow("starting chat server", "addr", cfg.App.Addr(), "backend", cfg.Store.Backend)
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatalw("server listen", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown requested")

	sctx, scancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer scancel()
	wsrv.Close()
	_ = app.ShutdownWithContext(sctx)
	cancel()
	logger.Info("chat server stopped")
}
