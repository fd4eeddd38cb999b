// Package crowd keeps the volatile current_crowd feature of indexed venues
// fresh. A Source reports crowd levels by venue id and a Refresher pushes
// them into the index on an interval.
package crowd

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding crowd levels, field = venue id.
const DefaultRedisKey = "cafe:crowd"

// Source reports the current crowd level of venues by id.
type Source interface {
	CrowdLevels(ctx context.Context) (map[int64]float64, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (map[int64]float64, error)

// CrowdLevels calls f.
func (f SourceFunc) CrowdLevels(ctx context.Context) (map[int64]float64, error) {
	return f(ctx)
}

// RedisSource reads crowd levels from a Redis hash.
type RedisSource struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisSource creates a RedisSource reading key, or DefaultRedisKey when
// key is empty.
func NewRedisSource(client *redis.Client, key string, logger *slog.Logger) *RedisSource {
	if key == "" {
		key = DefaultRedisKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSource{client: client, key: key, logger: logger}
}

// CrowdLevels fetches the whole hash. Fields that are not venue ids or whose
// values are not finite numbers are skipped with a warning.
func (s *RedisSource) CrowdLevels(ctx context.Context) (map[int64]float64, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read crowd hash %s: %w", s.key, err)
	}
	levels, skipped := parseLevels(fields)
	if skipped > 0 {
		s.logger.Warn("skipped malformed crowd entries",
			slog.String("key", s.key),
			slog.Int("skipped", skipped))
	}
	return levels, nil
}

func parseLevels(fields map[string]string) (map[int64]float64, int) {
	levels := make(map[int64]float64, len(fields))
	skipped := 0
	for k, v := range fields {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			skipped++
			continue
		}
		level, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(level) || math.IsInf(level, 0) {
			skipped++
			continue
		}
		levels[id] = level
	}
	return levels, skipped
}
