package events

import (
	"github.com/mortgage-marketplace/backend/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewSinkPublisher picks the publisher for cfg.AlertSink. An unreachable broker
// falls back to redis so that alerts still reach the dashboard, and
// cfg.AlertSink is rewritten to the sink actually in use.
func NewSinkPublisher(cfg *config.Config, rdb *redis.Client, log *zap.Logger) (Publisher, func()) {
	if cfg.AlertSink == config.AlertSinkAMQP {
		p, err := NewAMQPPublisher(cfg.AMQPURL, cfg.AlertExchange, log)
		if err == nil {
			return p, p.Close
		}
		log.Error("failed to connect to amqp, publishing alerts to redis", zap.Error(err))
		cfg.AlertSink = config.AlertSinkRedis
	}
	return NewRedisPublisher(rdb, log), func() {}
}
