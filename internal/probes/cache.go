package probes

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/health"
	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

// DefaultCacheTTL bounds how long a probe key may outlive the probe.
const DefaultCacheTTL = 60 * time.Second

// KeyValueStore is the cache surface the probe exercises.
// Get reports found=false for a missing key rather than an error.
type KeyValueStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (value string, found bool, err error)
}

// Cache writes a random key with a short expiry, reads it back and is
// healthy when the value round-trips.
type Cache struct {
	Client KeyValueStore
	TTL    time.Duration
	// NewKey defaults to a random UUID.
	NewKey func() string
}

func (p *Cache) Run(ctx context.Context) (health.Outcome, error) {
	start := time.Now()
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	newKey := p.NewKey
	if newKey == nil {
		newKey = uuid.NewString
	}
	key := newKey()

	if err := p.Client.Set(ctx, key, key, ttl); err != nil {
		return health.Outcome{}, xerrors.Wrap(err, "cache set")
	}
	got, _, err := p.Client.Get(ctx, key)
	if err != nil {
		return health.Outcome{}, xerrors.Wrap(err, "cache get")
	}
	if got != key {
		return health.Unhealthy(start, fmt.Sprintf("Cache Get: expected %s, actual %s.", key, got), nil), nil
	}
	return health.Healthy(start, "Cache set/get operations completed successfully."), nil
}

// RedisStore adapts a go-redis client.
type RedisStore struct {
	Client redis.Cmdable
}

func (r RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.Client.Set(ctx, key, value, ttl).Err()
}

func (r RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// ParseRedisOptions accepts either a redis:// or rediss:// URL or the
// comma-separated form "host:port,password=...,ssl=True,abortConnect=False".
func ParseRedisOptions(conn string) (*redis.Options, error) {
	conn = strings.TrimSpace(conn)
	if conn == "" {
		return nil, xerrors.New("redis connection string is empty")
	}
	if strings.HasPrefix(conn, "redis://") || strings.HasPrefix(conn, "rediss://") {
		opts, err := redis.ParseURL(conn)
		if err != nil {
			return nil, xerrors.Wrap(err, "parse redis url")
		}
		return opts, nil
	}

	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	if opts.Addr == "" || strings.Contains(opts.Addr, "=") {
		return nil, xerrors.New("redis connection string must start with host:port")
	}
	host, _, err := net.SplitHostPort(opts.Addr)
	if err != nil {
		// no port; a bare or bracketed IPv6 host is fine here
		host = strings.Trim(opts.Addr, "[]")
		opts.Addr = net.JoinHostPort(host, "6379")
	}
	useTLS := false
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			if strings.TrimSpace(p) == "" {
				continue
			}
			return nil, xerrors.Newf("redis connection string option %q is not key=value", p)
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "password":
			opts.Password = v
		case "user", "username":
			opts.Username = v
		case "ssl":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, xerrors.Wrapf(err, "redis ssl=%q", v)
			}
			useTLS = b
		case "defaultdatabase":
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, xerrors.Wrapf(err, "redis defaultDatabase=%q", v)
			}
			opts.DB = n
		}
		// other options (abortConnect, connectTimeout, ...) have no equivalent
	}
	if useTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
	}
	return opts, nil
}
