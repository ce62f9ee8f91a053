package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/common"
	"github.com/ternarybob/courseforge/internal/interfaces"
	"github.com/ternarybob/courseforge/internal/models"
)

// RedisRelay carries progress snapshots between instances. Publish goes to
// a per-job Redis channel; a pattern subscription feeds every received
// snapshot into the local Service, which owns the actual subscribers.
type RedisRelay struct {
	client *redis.Client
	local  *Service
	prefix string
	logger arbor.ILogger

	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ interfaces.ProgressNotifier = (*RedisRelay)(nil)

// NewRedisRelay connects to Redis and starts relaying into local
func NewRedisRelay(config *common.NotificationsConfig, local *Service, logger arbor.ILogger) (*RedisRelay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.RedisAddr, err)
	}

	prefix := config.ChannelPrefix
	if prefix == "" {
		prefix = "courseforge:progress:"
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &RedisRelay{
		client: client,
		local:  local,
		prefix: prefix,
		logger: logger,
		pubsub: client.PSubscribe(ctx, prefix+"*"),
		cancel: cancel,
	}

	r.wg.Add(1)
	common.SafeGo(logger, "redis-progress-relay", func() {
		defer r.wg.Done()
		r.relay(ctx)
	})

	logger.Info().Str("addr", config.RedisAddr).Str("pattern", prefix+"*").Msg("Redis progress relay started")
	return r, nil
}

// Publish sends snapshot to the job's Redis channel. If Redis is
// unavailable the snapshot is delivered to local subscribers only.
func (r *RedisRelay) Publish(ctx context.Context, jobID string, snapshot *models.JobProgress) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		r.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to encode progress snapshot")
		return
	}

	if err := r.client.Publish(ctx, r.channel(jobID), data).Err(); err != nil {
		r.logger.Warn().Err(err).Str("job_id", jobID).Msg("Redis publish failed, delivering locally")
		r.local.Publish(ctx, jobID, snapshot)
	}
}

// Subscribe subscribes on the local fan-out, which the relay feeds
func (r *RedisRelay) Subscribe(jobID string) (<-chan *models.JobProgress, func()) {
	return r.local.Subscribe(jobID)
}

func (r *RedisRelay) relay(ctx context.Context) {
	for msg := range r.pubsub.Channel() {
		jobID, ok := r.jobIDFromChannel(msg.Channel)
		if !ok {
			continue
		}

		var snapshot models.JobProgress
		if err := json.Unmarshal([]byte(msg.Payload), &snapshot); err != nil {
			r.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("Discarding malformed progress message")
			continue
		}
		r.local.Publish(ctx, jobID, &snapshot)
	}
}

func (r *RedisRelay) channel(jobID string) string {
	return r.prefix + jobID
}

func (r *RedisRelay) jobIDFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, r.prefix) {
		return "", false
	}
	jobID := strings.TrimPrefix(channel, r.prefix)
	return jobID, jobID != ""
}

// Close stops relaying, closes the Redis client and the local fan-out
func (r *RedisRelay) Close() error {
	r.cancel()
	if err := r.pubsub.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to close redis subscription")
	}
	r.wg.Wait()

	err := r.client.Close()
	r.local.Close()
	return err
}
