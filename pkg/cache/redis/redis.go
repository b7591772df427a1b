package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"txflow/pkg/cache"

	"github.com/redis/rueidis"
)

// RedisCache is an optional shared L2 layer. Several client processes for the
// same user (e.g. a CLI and a backend-for-frontend) can share wallet and
// beneficiary read models through it. Values are stored as JSON and returned
// as json.RawMessage; the chain decodes them into the requested type.
type RedisCache struct {
	client rueidis.Client
	name   string
	config RedisCacheConfig
}

type RedisCacheConfig struct {
	Name string `yaml:"name"`
	// Addr is the Redis server address for single node mode.
	Addr string `yaml:"addr"`
	// ClusterAddrs enables cluster mode when set.
	ClusterAddrs []string `yaml:"cluster_addrs"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	// DB is the Redis database number. Cluster mode only supports DB 0.
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	DefaultTTL   time.Duration `yaml:"default_ttl"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// SentinelAddrs enables sentinel mode when set.
	SentinelAddrs     []string `yaml:"sentinel_addrs"`
	SentinelMasterSet string   `yaml:"sentinel_master_set"`
}

func DefaultRedisCacheConfig() RedisCacheConfig {
	return RedisCacheConfig{
		Name:         "L2-redis",
		Addr:         "localhost:6379",
		KeyPrefix:    "txflow-cache:",
		DefaultTTL:   5 * time.Minute,
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func clientOption(config RedisCacheConfig) (rueidis.ClientOption, error) {
	var initAddress []string
	switch {
	case len(config.ClusterAddrs) > 0:
		initAddress = config.ClusterAddrs
	case len(config.SentinelAddrs) > 0:
		initAddress = config.SentinelAddrs
	case config.Addr != "":
		initAddress = []string{config.Addr}
	default:
		return rueidis.ClientOption{}, fmt.Errorf("redis: no addresses configured (set Addr, ClusterAddrs, or SentinelAddrs)")
	}

	opt := rueidis.ClientOption{
		InitAddress:      initAddress,
		Username:         config.Username,
		Password:         config.Password,
		SelectDB:         config.DB,
		ConnWriteTimeout: config.WriteTimeout,
	}
	if len(config.SentinelAddrs) > 0 {
		opt.Sentinel = rueidis.SentinelOption{
			MasterSet: config.SentinelMasterSet,
		}
	}
	return opt, nil
}

func NewRedisCache(config RedisCacheConfig) (*RedisCache, error) {
	if config.Name == "" {
		config.Name = "L2-redis"
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	opt, err := clientOption(config)
	if err != nil {
		return nil, err
	}

	client, err := rueidis.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("redis: failed to create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: failed to ping server: %w", err)
	}

	return &RedisCache{
		client: client,
		name:   config.Name,
		config: config,
	}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) (interface{}, error) {
	resp := r.client.Do(ctx, r.client.B().Get().Key(r.config.KeyPrefix+key).Build())

	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, cache.ErrKeyNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	data, err := resp.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("redis get: failed to read response: %w", err)
	}

	return json.RawMessage(data), nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.config.DefaultTTL
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis set: failed to marshal: %w", err)
	}

	cmd := r.client.B().Set().Key(r.config.KeyPrefix + key).Value(string(data)).Ex(ttl).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	cmd := r.client.B().Del().Key(r.config.KeyPrefix + key).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// DeleteMulti removes keys with a single DEL.
func (r *RedisCache) DeleteMulti(ctx context.Context, keys []string) error {
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = r.config.KeyPrefix + key
	}
	cmd := r.client.B().Del().Key(prefixed...).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

func (r *RedisCache) Name() string {
	return r.name
}

func (r *RedisCache) Close() error {
	r.client.Close()
	return nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	if err := r.client.Do(ctx, r.client.B().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
