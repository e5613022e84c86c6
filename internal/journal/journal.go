package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/imagerelay/imagegen"
	"github.com/BaSui01/imagerelay/internal/tlsutil"
)

// =============================================================================
// Failure journal
// =============================================================================

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal is closed")

// Entry is one terminal acquisition failure.
type Entry struct {
	ID         string                   `json:"id"`
	RequestID  string                   `json:"request_id,omitempty"`
	Time       time.Time                `json:"time"`
	Kind       string                   `json:"kind"`
	Reason     string                   `json:"reason"`
	RetryAfter time.Duration            `json:"retry_after,omitempty"`
	Attempts   []imagegen.AttemptRecord `json:"attempts"`
}

// Config journal settings.
type Config struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	TLS      bool   `yaml:"tls" json:"tls"`

	// Key is the Redis list holding the entries, newest first
	Key string `yaml:"key" json:"key"`

	// MaxEntries caps the list length
	MaxEntries int64 `yaml:"max_entries" json:"max_entries"`

	// TTL expires the whole list after a quiet period; 0 keeps it
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultConfig returns the default journal settings.
func DefaultConfig() Config {
	return Config{
		Addr:       "localhost:6379",
		Key:        "imagerelay:failures",
		MaxEntries: 200,
		TTL:        24 * time.Hour,
	}
}

// Journal keeps a bounded Redis list of recent acquisition failures.
// It is write-only from the acquisition path and never affects provider selection.
type Journal struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	now    func() time.Time
	mu     sync.RWMutex
	closed bool
}

// New connects to Redis and returns a journal.
func New(ctx context.Context, config Config, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.Key == "" {
		config.Key = defaults.Key
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = defaults.MaxEntries
	}

	client := redis.NewClient(&redis.Options{
		Addr:      config.Addr,
		Password:  config.Password,
		DB:        config.DB,
		TLSConfig: tlsutil.RedisTLSConfig(config.TLS, config.Addr),
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	j := &Journal{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "journal")),
		now:    time.Now,
	}

	j.logger.Info("failure journal initialized",
		zap.String("addr", config.Addr),
		zap.String("key", config.Key),
		zap.Int64("max_entries", config.MaxEntries),
	)

	return j, nil
}

// =============================================================================
// Core methods
// =============================================================================

// Record appends a failure. A nil failure is ignored.
func (j *Journal) Record(ctx context.Context, requestID string, failure *imagegen.AcquisitionError) error {
	if failure == nil {
		return nil
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return ErrClosed
	}

	entry := Entry{
		ID:         uuid.NewString(),
		RequestID:  requestID,
		Time:       j.now().UTC(),
		Kind:       failure.Kind.String(),
		Reason:     failure.Reason,
		RetryAfter: failure.RetryAfter,
		Attempts:   failure.Attempts,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	pipe := j.redis.TxPipeline()
	pipe.LPush(ctx, j.config.Key, data)
	pipe.LTrim(ctx, j.config.Key, 0, j.config.MaxEntries-1)
	if j.config.TTL > 0 {
		pipe.Expire(ctx, j.config.Key, j.config.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		j.logger.Error("journal write failed", zap.String("request_id", requestID), zap.Error(err))
		return fmt.Errorf("journal write failed: %w", err)
	}

	return nil
}

// Recent returns up to n entries, newest first. Entries that fail to decode
// are skipped.
func (j *Journal) Recent(ctx context.Context, n int64) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return nil, ErrClosed
	}

	if n <= 0 || n > j.config.MaxEntries {
		n = j.config.MaxEntries
	}

	raw, err := j.redis.LRange(ctx, j.config.Key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("journal read failed: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			j.logger.Warn("skipping malformed journal entry", zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}

	return entries, nil
}

// Ping checks the Redis connection.
func (j *Journal) Ping(ctx context.Context) error {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return ErrClosed
	}

	return j.redis.Ping(ctx).Err()
}

// Close releases the Redis client.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	j.closed = true
	j.logger.Info("closing failure journal")

	return j.redis.Close()
}
