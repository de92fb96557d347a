package hllcount

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	clientMu    sync.RWMutex
	redisClient *redis.Client
)

// RedisConnOptions holds the connection settings used by MakeRedisClient.
type RedisConnOptions struct {
	DB                int
	Network           string
	Address           string
	Username          string
	Password          string
	ConnectionTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	PoolSize          int
	TLSConfig         *tls.Config
}

// GetRedisClient returns the shared client, or nil if MakeRedisClient was never called.
func GetRedisClient() *redis.Client {
	clientMu.RLock()
	defer clientMu.RUnlock()
	return redisClient
}

// MakeRedisClient installs the shared client used by the Redis backed sketches.
// A previously installed client is closed and replaced.
func MakeRedisClient(options RedisConnOptions) {
	client := redis.NewClient(&redis.Options{
		DB:           options.DB,
		Network:      options.Network,
		Addr:         options.Address,
		Username:     options.Username,
		Password:     options.Password,
		DialTimeout:  options.ConnectionTimeout,
		ReadTimeout:  options.ReadTimeout,
		WriteTimeout: options.WriteTimeout,
		PoolSize:     options.PoolSize,
		TLSConfig:    options.TLSConfig,
	})
	clientMu.Lock()
	previous := redisClient
	redisClient = client
	clientMu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}
}

// CloseRedisClient closes and forgets the shared client.
func CloseRedisClient() error {
	clientMu.Lock()
	client := redisClient
	redisClient = nil
	clientMu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

// ParseRedisURI converts a redis:// or rediss:// URI into RedisConnOptions.
func ParseRedisURI(uri string) (*RedisConnOptions, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("hllcount: could not parse redis uri: %w", err)
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("hllcount: unsupported uri scheme %q", u.Scheme)
	}
	options, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("hllcount: error while parsing redis uri: %w", err)
	}
	return makeConnOptions(options), nil
}

func makeConnOptions(options *redis.Options) *RedisConnOptions {
	return &RedisConnOptions{
		DB:                options.DB,
		Network:           options.Network,
		Address:           options.Addr,
		Username:          options.Username,
		Password:          options.Password,
		ConnectionTimeout: options.DialTimeout,
		ReadTimeout:       options.ReadTimeout,
		WriteTimeout:      options.WriteTimeout,
		PoolSize:          options.PoolSize,
		TLSConfig:         options.TLSConfig,
	}
}
