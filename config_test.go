package pyramid_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/pyramid"
	"github.com/meigma/pyramid/core/codec"
	"github.com/meigma/pyramid/core/fetch"
	fixtures "github.com/meigma/pyramid/internal/testutil"
)

func TestLoadConfigMissing(t *testing.T) {
	t.Parallel()

	cfg, err := pyramid.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, pyramid.DefaultConfig(), cfg)
	assert.Equal(t, fetch.DefaultMaxPrefetch, cfg.Fetch.MaxPrefetch)
	assert.Equal(t, uint64(codec.DefaultMaxBlockBytes), cfg.Fetch.MaxBlockBytes)
	assert.Equal(t, "anonymous", cfg.S3.Auth)
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pyramid.yaml")
	data := []byte(`
fetch:
  workers: 3
  timeout: 1500ms
  retryFailed: true
diskCache:
  dir: /tmp/blocks
  maxBytes: 1048576
s3:
  endpoint: http://localhost:9000
  pathStyle: true
  auth: chain
http:
  headers:
    Authorization: Bearer abc
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := pyramid.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Fetch.Workers)
	assert.Equal(t, 1500*time.Millisecond, cfg.Fetch.Timeout)
	assert.True(t, cfg.Fetch.RetryFailed)
	assert.Equal(t, fetch.DefaultMaxPrefetch, cfg.Fetch.MaxPrefetch, "unset keys keep defaults")
	assert.Equal(t, "/tmp/blocks", cfg.DiskCache.Dir)
	assert.Equal(t, int64(1<<20), cfg.DiskCache.MaxBytes)
	assert.Equal(t, "http://localhost:9000", cfg.S3.Endpoint)
	assert.True(t, cfg.S3.PathStyle)
	assert.Equal(t, "chain", cfg.S3.Auth)
	assert.Equal(t, map[string]string{"Authorization": "Bearer abc"}, cfg.HTTP.Headers)

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.NotEmpty(t, opts)
}

func TestLoadConfigInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fetch: [1, 2"), 0o600))
	_, err := pyramid.LoadConfig(path)
	require.Error(t, err)
}

func TestConfigOptionsBadAuth(t *testing.T) {
	t.Parallel()

	cfg := pyramid.DefaultConfig()
	cfg.S3.Auth = "kerberos"
	_, err := cfg.Options()
	require.Error(t, err)
}

func TestConfigOptionsOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := fixtures.Pyramid{Shape: [3]int64{8, 8, 8}, Chunk: [3]int{4, 4, 4}, Levels: 2}
	fixtures.WriteDir(t, dir, p)

	cfg := pyramid.DefaultConfig()
	cfg.Fetch.Workers = 2
	cfg.Fetch.Timeout = 10 * time.Second
	opts, err := cfg.Options()
	require.NoError(t, err)

	l, err := pyramid.New(dir, opts...)
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	s, err := l.Setup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, s.NumMipmapLevels())
	img, err := s.Image(0, 1)
	require.NoError(t, err)
	b, err := img.Cell(ctx, [3]int64{})
	require.NoError(t, err)
	assert.Equal(t, fixtures.ExpectedCell(p, 1, 0, 0, [3]int64{}), blockValues(t, b))
}
