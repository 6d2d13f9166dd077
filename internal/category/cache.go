package category

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/redis/go-redis/v9"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

// Cache persists the last category snapshot. Load returns nil and no error
// when nothing has been stored yet.
type Cache interface {
	Load(ctx context.Context) (*schemas.CategoryTree, error)
	Store(ctx context.Context, tree schemas.CategoryTree) error
}

// Fresh reports whether tree was stamped less than ttl before now.
func Fresh(tree *schemas.CategoryTree, ttl time.Duration, now time.Time) bool {
	if tree == nil || tree.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(tree.UpdatedAt) < ttl
}

// -- File --

// FileCache keeps the snapshot as an indented JSON file.
type FileCache struct {
	path string
}

// NewFileCache expands a leading "~" in path.
func NewFileCache(path string) (*FileCache, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand cache path %q: %w", path, err)
	}
	return &FileCache{path: expanded}, nil
}

// Path returns the expanded file location.
func (c *FileCache) Path() string { return c.path }

func (c *FileCache) Load(ctx context.Context) (*schemas.CategoryTree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read category cache: %w", err)
	}
	var tree schemas.CategoryTree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode category cache: %w", err)
	}
	return &tree, nil
}

// Store writes through a temporary file so readers never see a partial tree.
func (c *FileCache) Store(ctx context.Context, tree schemas.CategoryTree) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode category tree: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".categories-*")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	return os.Rename(tmp.Name(), c.path)
}

// -- Redis --

// DefaultRedisKey holds the snapshot when no key is configured.
const DefaultRedisKey = "kleinpost:categories"

// RedisCache keeps the snapshot under one redis key without expiry; freshness
// is judged by the tree's own stamp.
type RedisCache struct {
	client redis.Cmdable
	key    string
}

// NewRedisCache wraps client. An empty key uses DefaultRedisKey.
func NewRedisCache(client redis.Cmdable, key string) *RedisCache {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisCache{client: client, key: key}
}

func (c *RedisCache) Load(ctx context.Context) (*schemas.CategoryTree, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read category cache from redis: %w", err)
	}
	var tree schemas.CategoryTree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode category cache: %w", err)
	}
	return &tree, nil
}

func (c *RedisCache) Store(ctx context.Context, tree schemas.CategoryTree) error {
	data, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to encode category tree: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write category cache to redis: %w", err)
	}
	return nil
}
