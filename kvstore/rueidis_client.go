package kvstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/rueidis"
)

//go:embed scripts/set_if_absent.lua
var setIfAbsentSrc string

//go:embed scripts/compare_and_delete.lua
var compareAndDeleteSrc string

//go:embed scripts/atomic_incr.lua
var atomicIncrSrc string

var (
	setIfAbsentScript    = rueidis.NewLuaScript(setIfAbsentSrc)
	compareAndDeleteScript = rueidis.NewLuaScript(compareAndDeleteSrc)
	atomicIncrScript     = rueidis.NewLuaScript(atomicIncrSrc)
)

var _ Client = (*RueidisClient)(nil)

// RueidisClient is a rueidis-backed implementation of Client, following
// the key-prefixing and Lua-scripted-atomic-set conventions of the
// reference Redis KV wrapper this package is grounded on.
type RueidisClient struct {
	client rueidis.Client
	prefix string
}

// RueidisOption configures a RueidisClient.
type RueidisOption func(*RueidisClient)

// WithKeyPrefix scopes all keys under prefix (e.g. the deployment's
// kv_key_prefix). prefix need not end in ":"; one is added if missing.
func WithKeyPrefix(prefix string) RueidisOption {
	return func(c *RueidisClient) {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" && !strings.HasSuffix(prefix, ":") {
			prefix += ":"
		}
		c.prefix = prefix
	}
}

// NewRueidisClient builds a Client on top of an existing rueidis.Client.
func NewRueidisClient(client rueidis.Client, opts ...RueidisOption) *RueidisClient {
	c := &RueidisClient{client: client}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to the KV store at the given address (kv_endpoint, per
// spec.md §6) and wraps the resulting rueidis.Client in a RueidisClient.
func Dial(address string, opts ...RueidisOption) (*RueidisClient, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{address},
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: dial %q: %w", address, err)
	}
	return NewRueidisClient(client, opts...), nil
}

func (c *RueidisClient) key(raw string) string {
	if c.prefix == "" {
		return raw
	}
	return c.prefix + raw
}

func (c *RueidisClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res := c.client.Do(ctx, c.client.B().Get().Key(c.key(key)).Build())
	bs, err := res.AsBytes()
	if err != nil {
		if isNil(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kvstore: get %q: %w", key, err)
	}
	return bs, true, nil
}

func (c *RueidisClient) SetTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl > 0 {
		cmd := c.client.B().Set().Key(c.key(key)).Value(rueidis.BinaryString(value)).ExSeconds(secondsOrOne(ttl)).Build()
		return c.client.Do(ctx, cmd).Error()
	}
	cmd := c.client.B().Set().Key(c.key(key)).Value(rueidis.BinaryString(value)).Build()
	return c.client.Do(ctx, cmd).Error()
}

func (c *RueidisClient) SetIfAbsentTTL(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	res := setIfAbsentScript.Exec(ctx, c.client, []string{c.key(key)}, []string{rueidis.BinaryString(value), ttlArg(ttl)})
	n, err := res.AsInt64()
	if err != nil {
		return false, fmt.Errorf("kvstore: set-if-absent %q: %w", key, err)
	}
	return n == 1, nil
}

func (c *RueidisClient) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	res := compareAndDeleteScript.Exec(ctx, c.client, []string{c.key(key)}, []string{rueidis.BinaryString(expected)})
	n, err := res.AsInt64()
	if err != nil {
		return false, fmt.Errorf("kvstore: compare-and-delete %q: %w", key, err)
	}
	return n == 1, nil
}

func (c *RueidisClient) Delete(ctx context.Context, key string) error {
	err := c.client.Do(ctx, c.client.B().Del().Key(c.key(key)).Build()).Error()
	if err != nil {
		return fmt.Errorf("kvstore: delete %q: %w", key, err)
	}
	return nil
}

func (c *RueidisClient) AtomicIncrScript(ctx context.Context, key string, capacity int64, refillPerSecond float64, cost int64, ttl time.Duration) (float64, float64, error) {
	now := nowUnixNano()
	res := atomicIncrScript.Exec(ctx, c.client, []string{c.key(key)}, []string{
		strconv.FormatInt(capacity, 10),
		strconv.FormatFloat(refillPerSecond, 'f', -1, 64),
		strconv.FormatInt(cost, 10),
		ttlArg(ttl),
		strconv.FormatInt(now, 10),
	})
	arr, err := res.ToArray()
	if err != nil {
		return 0, 0, fmt.Errorf("kvstore: atomic-incr %q: %w", key, err)
	}
	if len(arr) != 2 {
		return 0, 0, fmt.Errorf("kvstore: atomic-incr %q: unexpected script result shape", key)
	}
	afterStr, err := arr[0].ToString()
	if err != nil {
		return 0, 0, fmt.Errorf("kvstore: atomic-incr %q: %w", key, err)
	}
	refilledStr, err := arr[1].ToString()
	if err != nil {
		return 0, 0, fmt.Errorf("kvstore: atomic-incr %q: %w", key, err)
	}
	after, err := strconv.ParseFloat(afterStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("kvstore: atomic-incr %q: parse after: %w", key, err)
	}
	refilled, err := strconv.ParseFloat(refilledStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("kvstore: atomic-incr %q: parse refilled: %w", key, err)
	}
	return after, refilled, nil
}

func (c *RueidisClient) ScanPrefix(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error {
	fullPrefix := c.key(prefix)
	pattern := fullPrefix + "*"
	cursor := uint64(0)
	for {
		scanEntry, err := c.client.Do(ctx, c.client.B().Scan().Cursor(cursor).Match(pattern).Count(200).Build()).AsScanEntry()
		if err != nil {
			return fmt.Errorf("kvstore: scan %q: %w", prefix, err)
		}
		for _, fullKey := range scanEntry.Elements {
			value, ok, err := c.rawGet(ctx, fullKey)
			if err != nil {
				return fmt.Errorf("kvstore: scan %q: get %q: %w", prefix, fullKey, err)
			}
			if !ok {
				continue
			}
			trimmed := strings.TrimPrefix(fullKey, c.prefix)
			if !fn(trimmed, value) {
				return nil
			}
		}
		cursor = scanEntry.Cursor
		if cursor == 0 {
			return nil
		}
	}
}

func (c *RueidisClient) rawGet(ctx context.Context, fullKey string) ([]byte, bool, error) {
	res := c.client.Do(ctx, c.client.B().Get().Key(fullKey).Build())
	bs, err := res.AsBytes()
	if err != nil {
		if isNil(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return bs, true, nil
}

func (c *RueidisClient) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}

func (c *RueidisClient) Close() error {
	c.client.Close()
	return nil
}

func isNil(err error) bool {
	if re, ok := rueidis.IsRedisErr(err); ok {
		return re.IsNil()
	}
	return errors.Is(err, rueidis.Nil)
}

func ttlArg(ttl time.Duration) string {
	if ttl <= 0 {
		return "0"
	}
	secs := int64(ttl.Seconds())
	if secs <= 0 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func secondsOrOne(ttl time.Duration) int64 {
	secs := int64(ttl.Seconds())
	if secs <= 0 {
		return 1
	}
	return secs
}
