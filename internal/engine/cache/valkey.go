package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// ValkeyTLSConfig configures TLS for NewValkey, mirroring the teacher's
// RedisTLSConfig shape.
type ValkeyTLSConfig struct {
	Enabled bool
}

// ValkeyConfig configures NewValkey, adapted from the teacher's RedisConfig.
type ValkeyConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      ValkeyTLSConfig
}

type valkeyCache struct {
	client valkey.Client
}

// NewValkey builds a ResultCache over a valkey-io/valkey-go client speaking
// the Redis protocol, adapted directly from the teacher's
// internal/runtime/cache/redis.go.
func NewValkey(cfg ValkeyConfig) (ResultCache, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: valkey address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}
	if cfg.TLS.Enabled {
		option.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("cache: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: valkey ping: %w", err)
	}

	return &valkeyCache{client: client}, nil
}

func (c *valkeyCache) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache: valkey get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: valkey get bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("cache: valkey unmarshal: %w", err)
	}
	return entry, true, nil
}

func (c *valkeyCache) Store(ctx context.Context, key string, entry Entry) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	if entry.ExpiresAt.IsZero() || entry.ExpiresAt.Before(entry.StoredAt) {
		return errors.New("cache: valkey entry expiry required")
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: valkey marshal: %w", err)
	}
	cmd := c.client.B().Set().Key(key).Value(string(payload)).Px(ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: valkey set: %w", err)
	}
	return nil
}

func (c *valkeyCache) DeletePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return nil
	}
	var cursor uint64
	for {
		resp := c.client.Do(ctx, c.client.B().Scan().Cursor(cursor).Match(prefix+"*").Count(200).Build())
		if err := resp.Error(); err != nil {
			return fmt.Errorf("cache: valkey scan: %w", err)
		}
		entry, err := resp.AsScanEntry()
		if err != nil {
			return fmt.Errorf("cache: valkey scan entry: %w", err)
		}
		if len(entry.Elements) > 0 {
			del := c.client.B().Del().Key(entry.Elements...).Build()
			if err := c.client.Do(ctx, del).Error(); err != nil {
				return fmt.Errorf("cache: valkey del: %w", err)
			}
		}
		cursor = entry.Cursor
		if cursor == 0 {
			return nil
		}
	}
}

func (c *valkeyCache) Size(ctx context.Context) (int64, error) {
	resp := c.client.Do(ctx, c.client.B().Dbsize().Build())
	if err := resp.Error(); err != nil {
		return 0, fmt.Errorf("cache: valkey dbsize: %w", err)
	}
	return resp.ToInt64()
}

func (c *valkeyCache) Close(_ context.Context) error {
	c.client.Close()
	return nil
}
