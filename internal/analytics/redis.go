// Package analytics keeps best-effort per-automation delivery counters in Redis.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/djlord-it/orbitops/internal/domain"
)

const DefaultRetention = 30 * 24 * time.Hour

// RedisSink increments one counter per automation, run status and UTC day.
// Failures are logged and swallowed; analytics never affects scheduling.
type RedisSink struct {
	client    redis.Cmdable
	retention time.Duration
	log       logrus.FieldLogger
}

func NewRedisSink(client redis.Cmdable, retention time.Duration, log logrus.FieldLogger) *RedisSink {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisSink{client: client, retention: retention, log: log}
}

func (s *RedisSink) Record(ctx context.Context, run domain.Run) {
	if err := s.write(ctx, run); err != nil {
		s.log.WithError(err).WithField("automation_id", run.AutomationID).Warn("analytics: write failed")
	}
}

func (s *RedisSink) write(ctx context.Context, run domain.Run) error {
	key := buildKey(run.AutomationID, run.Status, run.ScheduledFor)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// DailyCounts reads the sent and failed counters for one automation and day.
// Missing keys count as zero.
func (s *RedisSink) DailyCounts(ctx context.Context, automationID uuid.UUID, day time.Time) (sent, failed int64, err error) {
	vals, err := s.client.MGet(ctx,
		buildKey(automationID, domain.RunStatusSent, day),
		buildKey(automationID, domain.RunStatusFailed, day),
	).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis mget: %w", err)
	}
	return toInt(vals[0]), toInt(vals[1]), nil
}

func toInt(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n int64
	if _, err := fmt.Sscan(s, &n); err != nil {
		return 0
	}
	return n
}

func buildKey(automationID uuid.UUID, status domain.RunStatus, t time.Time) string {
	return fmt.Sprintf("orbitops:a:%s:%s:%s", automationID, status, t.UTC().Format("20060102"))
}
