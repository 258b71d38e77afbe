package main

import (
	"context"
	"time"

	"rvcampaign/internal/campaign/coverage"
	"rvcampaign/internal/campaign/repository"
	"rvcampaign/internal/common/cache"
	"rvcampaign/internal/common/db"
	"rvcampaign/internal/common/mq"
	"rvcampaign/internal/common/storage"
	"rvcampaign/pkg/utils/logger"

	"go.uber.org/zap"
)

// infra holds the optional remote services. A blank address in the config
// leaves the matching field nil.
type infra struct {
	cache    *cache.RedisCache
	database *db.MySQL
	storage  *storage.MinIOStorage
	producer *mq.KafkaProducer

	statusRepo *repository.StatusRepository
	history    *repository.HistoryRepository
	archive    *repository.Archive
	events     repository.EventPublisher
}

func openInfra(ctx context.Context, cfg *AppConfig) (*infra, error) {
	in := &infra{}
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCacheWithConfig(&cfg.Redis)
		if err != nil {
			in.close()
			return nil, err
		}
		in.cache = redisCache
		in.statusRepo = repository.NewStatusRepository(redisCache, cfg.Status.TTL)
	}

	if cfg.Database.DSN != "" {
		mysqlDB, err := db.NewMySQL(ctx, cfg.Database)
		if err != nil {
			in.close()
			return nil, err
		}
		in.database = mysqlDB
		in.history = repository.NewHistoryRepository(mysqlDB)
		if err := in.history.EnsureSchema(ctx); err != nil {
			in.close()
			return nil, err
		}
	}

	if cfg.MinIO.Endpoint != "" {
		objStorage, err := storage.NewMinIOStorage(cfg.MinIO)
		if err != nil {
			in.close()
			return nil, err
		}
		if err := objStorage.EnsureBucket(ctx, cfg.MinIO.Bucket, cfg.MinIO.Region); err != nil {
			in.close()
			return nil, err
		}
		in.storage = objStorage
		in.archive = repository.NewArchive(objStorage, cfg.MinIO.Bucket, cfg.Archive.Prefix)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewKafkaProducer(cfg.Kafka)
		if err != nil {
			in.close()
			return nil, err
		}
		in.producer = producer
		in.events = repository.NewMQEventPublisher(producer, cfg.Status.Topic)
	}

	logger.Debug(ctx, "infrastructure ready",
		zap.Bool("redis", in.cache != nil),
		zap.Bool("mysql", in.database != nil),
		zap.Bool("minio", in.storage != nil),
		zap.Bool("kafka", in.producer != nil),
	)
	return in, nil
}

// locker returns the distributed merge lock, or nil without redis.
func (in *infra) locker() coverage.Locker {
	if in.cache == nil {
		return nil
	}
	return in.cache
}

func (in *infra) close() {
	if in.producer != nil {
		_ = in.producer.Close()
	}
	if in.database != nil {
		_ = in.database.Close()
	}
	if in.cache != nil {
		_ = in.cache.Close()
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
