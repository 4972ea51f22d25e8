package preferences

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig represents the connection options of the Redis preferences
// backend. Names are spelled out in full because envconfig falls back to the
// bare tag, and PORT already belongs to the HTTP server.
type RedisConfig struct {
	Host      string `envconfig:"REDIS_HOST" required:"true"`
	Port      int    `envconfig:"REDIS_PORT" default:"6379"`
	Password  string `envconfig:"REDIS_PASSWORD"`
	DB        int    `envconfig:"REDIS_DB"`
	EnableTLS bool   `envconfig:"REDIS_ENABLE_TLS"`
	Prefix    string `envconfig:"REDIS_PREFIX" default:"preferences:"`
}

// RedisConfigFromEnvironment reads RedisConfig from the environment.
func RedisConfigFromEnvironment() (RedisConfig, error) {
	c := RedisConfig{}
	if err := envconfig.Process("", &c); err != nil {
		return c, errors.Wrap(err, "error getting redis configuration from environment")
	}
	return c, nil
}

// NewRedisClient connects to Redis and verifies the connection with a ping.
func NewRedisClient(ctx context.Context, c RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:       fmt.Sprintf("%s:%d", c.Host, c.Port),
		Password:   c.Password,
		DB:         c.DB,
		MaxRetries: 3,
	}
	if c.EnableTLS {
		opts.TLSConfig = &tls.Config{ServerName: c.Host, MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "error connecting to redis at %s", opts.Addr)
	}
	return client, nil
}

var (
	_ Store  = (*RedisStore)(nil)
	_ Seeder = (*RedisStore)(nil)
)

// RedisStore keeps preferences as JSON values under a key prefix.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(key string) string {
	return r.prefix + key
}

func (r *RedisStore) Get(ctx context.Context, key string) (Preferences, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Preferences{}, false, nil
	}
	if err != nil {
		return Preferences{}, false, errors.Wrap(err, "preferences: redis get")
	}

	var p Preferences
	if err := json.Unmarshal(val, &p); err != nil {
		return Preferences{}, false, errors.Wrap(err, "preferences: failed to unmarshal")
	}
	return p, true, nil
}

func (r *RedisStore) Put(ctx context.Context, key string, prefs Preferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return errors.Wrap(err, "preferences: failed to marshal")
	}
	return errors.Wrap(r.client.Set(ctx, r.key(key), data, 0).Err(), "preferences: redis set")
}

func (r *RedisStore) PutIfAbsent(ctx context.Context, key string, prefs Preferences) (bool, error) {
	data, err := json.Marshal(prefs)
	if err != nil {
		return false, errors.Wrap(err, "preferences: failed to marshal")
	}
	ok, err := r.client.SetNX(ctx, r.key(key), data, 0).Result()
	if err != nil {
		return false, errors.Wrap(err, "preferences: redis setnx")
	}
	return ok, nil
}
