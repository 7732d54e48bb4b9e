package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

type valkeyBackend struct {
	client valkey.Client
}

// NewValkey connects to a Valkey (or Redis) server at address.
func NewValkey(ctx context.Context, address, username, password string, db int) (Backend, error) {
	if address == "" {
		return nil, errors.New("cache: valkey address required")
	}
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{address},
		Username:          username,
		Password:          password,
		SelectDB:          db,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: valkey client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Do(pingCtx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: valkey ping: %w", err)
	}
	return &valkeyBackend{client: client}, nil
}

func (b *valkeyBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp := b.client.Do(ctx, b.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: valkey get: %w", err)
	}
	value, err := resp.AsBytes()
	if err != nil {
		return nil, false, fmt.Errorf("cache: valkey get bytes: %w", err)
	}
	return value, true, nil
}

func (b *valkeyBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cmd := b.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Build()
	if ttl > 0 {
		cmd = b.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Px(ttl).Build()
	}
	if err := b.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: valkey set: %w", err)
	}
	return nil
}

func (b *valkeyBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	cmd := b.client.B().Pexpire().Key(key).Milliseconds(ttl.Milliseconds()).Build()
	if err := b.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: valkey pexpire: %w", err)
	}
	return nil
}

func (b *valkeyBackend) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := b.client.Do(ctx, b.client.B().Del().Key(keys...).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("cache: valkey del: %w", err)
	}
	return int(n), nil
}

func (b *valkeyBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := b.client.Do(ctx, b.client.B().Keys().Pattern(pattern).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("cache: valkey keys: %w", err)
	}
	return keys, nil
}

func (b *valkeyBackend) Flush(ctx context.Context, prefix string) error {
	if prefix == "" {
		if err := b.client.Do(ctx, b.client.B().Flushdb().Build()).Error(); err != nil {
			return fmt.Errorf("cache: valkey flushdb: %w", err)
		}
		return nil
	}

	var cursor uint64
	for {
		cmd := b.client.B().Scan().Cursor(cursor).Match(escapeGlob(prefix) + "*").Count(scanBatch).Build()
		entry, err := b.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return fmt.Errorf("cache: valkey scan: %w", err)
		}
		if len(entry.Elements) > 0 {
			if _, err := b.Delete(ctx, entry.Elements...); err != nil {
				return err
			}
		}
		if entry.Cursor == 0 {
			return nil
		}
		cursor = entry.Cursor
	}
}

func (b *valkeyBackend) Ping(ctx context.Context) error {
	return b.client.Do(ctx, b.client.B().Ping().Build()).Error()
}

func (b *valkeyBackend) Close() error {
	b.client.Close()
	return nil
}
