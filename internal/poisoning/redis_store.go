package poisoning

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"flowsentry/pkg/models"
)

// RedisConfig configures Redis access for poisoning-state persistence.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisStore keeps poisoning state in a Redis hash so the generator side and
// a restarted detector observe the same activation history.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore constructs a Redis-backed poisoning-state store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.Key) == "" {
		cfg.Key = "flowsentry:poisoning_state"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis poisoning-state: %w", err)
	}

	return &RedisStore{client: client, key: strings.TrimSpace(cfg.Key)}, nil
}

// Load reads the state hash. The second return is false when the hash does
// not exist yet.
func (s *RedisStore) Load() (models.PoisoningState, bool, error) {
	var state models.PoisoningState
	ctx := context.Background()

	hash, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return state, false, fmt.Errorf("read poisoning-state hash: %w", err)
	}
	if len(hash) == 0 {
		return state, false, nil
	}

	state.IsActive = hash["is_active"] == "1"
	state.CurrentRetrainCycle, _ = strconv.Atoi(hash["current_retraining_cycle"])
	state.TotalPoisonedSamples, _ = strconv.ParseInt(hash["total_poisoned_samples"], 10, 64)
	if raw, ok := hash["started_at_cycle"]; ok && raw != "" {
		state.StartedAtCycle, _ = strconv.Atoi(raw)
		state.StartedAtCycleSet = true
	}
	if unix, _ := strconv.ParseInt(hash["last_updated"], 10, 64); unix > 0 {
		state.LastUpdated = time.Unix(unix, 0).UTC()
	}
	return state, true, nil
}

// Save writes all state fields in one pipelined round trip.
func (s *RedisStore) Save(state models.PoisoningState) error {
	ctx := context.Background()
	pipe := s.client.Pipeline()

	active := "0"
	if state.IsActive {
		active = "1"
	}
	pipe.HSet(ctx, s.key,
		"is_active", active,
		"current_retraining_cycle", strconv.Itoa(state.CurrentRetrainCycle),
		"total_poisoned_samples", strconv.FormatInt(state.TotalPoisonedSamples, 10),
		"last_updated", strconv.FormatInt(state.LastUpdated.Unix(), 10),
	)
	if state.StartedAtCycleSet {
		pipe.HSet(ctx, s.key, "started_at_cycle", strconv.Itoa(state.StartedAtCycle))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update poisoning-state hash: %w", err)
	}
	return nil
}

// Close closes Redis resources.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
