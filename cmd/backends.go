package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/fathima-sithara/travel-chat/internal/config"
	"github.com/fathima-sithara/travel-chat/internal/events"
	"github.com/fathima-sithara/travel-chat/internal/media"
	"github.com/fathima-sithara/travel-chat/internal/realtime"
	"github.com/fathima-sithara/travel-chat/internal/users"
)

const bootRetry = 30 * time.Second

type backends struct {
	store      realtime.Store
	users      users.Directory
	uploader   media.Uploader
	messagePub events.MessagePublisher
	chatPub    events.ChatPublisher
	closers    []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// retry pings a dependency until it answers or bootRetry runs out.
func retry(ctx context.Context, name string, log *zap.SugaredLogger, ping func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = bootRetry
	op := func() error {
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		err := ping(pctx)
		if err != nil {
			log.Warnw("waiting for dependency", "name", name, "err", err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("%s unreachable: %w", name, err)
	}
	return nil
}

func buildBackends(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*backends, error) {
	b := &backends{
		users:      users.StaticDirectory{},
		messagePub: events.Noop{},
		chatPub:    events.Noop{},
		uploader:   media.DataURLUploader{MaxBytes: cfg.Limits.MaxInlineBytes},
	}

	switch cfg.Store.Backend {
	case "mongo":
		if err := b.mongo(ctx, cfg, log); err != nil {
			b.close()
			return nil, err
		}
	default:
		b.store = realtime.NewMemoryStore(log)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		b.messagePub = kp
		b.closers = append(b.closers, func() { _ = kp.Close() })
		log.Infow("kafka publisher ready", "topic", cfg.Kafka.Topic)
	}
	if cfg.NATS.URL != "" {
		np, err := events.NewNATSPublisher(cfg.NATS.URL)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		b.chatPub = np
		b.closers = append(b.closers, np.Close)
	}
	if cfg.S3.Bucket != "" {
		up, err := media.NewS3Uploader(ctx, media.S3Config{
			Region:     cfg.S3.Region,
			Bucket:     cfg.S3.Bucket,
			Endpoint:   cfg.S3.Endpoint,
			PublicRead: cfg.S3.PublicRead,
			PresignTTL: cfg.PresignTTL(),
		}, log)
		if err != nil {
			b.close()
			return nil, fmt.Errorf("s3 init: %w", err)
		}
		b.uploader = up
	}
	return b, nil
}

func (b *backends) mongo(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	mc, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return fmt.Errorf("mongo connect: %w", err)
	}
	b.closers = append(b.closers, func() { _ = mc.Disconnect(context.Background()) })
	if err := retry(ctx, "mongo", log, func(c context.Context) error { return mc.Ping(c, readpref.Primary()) }); err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	b.closers = append(b.closers, func() { _ = rdb.Close() })
	if err := retry(ctx, "redis", log, func(c context.Context) error { return rdb.Ping(c).Err() }); err != nil {
		return err
	}

	db := mc.Database(cfg.Mongo.Database)
	store := realtime.NewMongoStore(db.Collection(cfg.Mongo.NodesCollection), realtime.NewRedisNotifier(rdb, cfg.Redis.Prefix), log)
	go func() {
		if err := store.Run(ctx); err != nil && ctx.Err() == nil {
			log.Errorw("change feed stopped", "err", err)
		}
	}()
	b.store = store

	dir, err := users.NewMongoDirectory(db.Collection(cfg.Mongo.UsersCollection), cfg.Users.CacheSize, cfg.UsersCacheTTL(), log)
	if err != nil {
		return fmt.Errorf("users directory: %w", err)
	}
	b.users = dir
	log.Infow("mongo backend ready", "database", cfg.Mongo.Database)
	return nil
}
