package serve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sig-0/fxsnap/config"
)

func TestServe_LoadConfig(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		cfg, err := (&serveCfg{}).loadConfig()
		require.NoError(t, err)

		assert.Equal(t, config.DefaultConfig(), cfg)
	})

	t.Run("flags override the file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "config.toml")

		require.NoError(t, os.WriteFile(path, []byte(`
listen_address = "127.0.0.1:9000"

[sync]
provider = "openexchangerates"
interval = "1h"
`), 0o600))

		cfg, err := (&serveCfg{
			configPath:    path,
			listenAddress: "127.0.0.1:9100",
			providerName:  "bcv",
		}).loadConfig()
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1:9100", cfg.ListenAddress)
		assert.Equal(t, "bcv", cfg.Sync.Provider)
		assert.Equal(t, "1h", cfg.Sync.Interval)
	})

	t.Run("invalid listen flag", func(t *testing.T) {
		t.Parallel()

		_, err := (&serveCfg{
			listenAddress: "everywhere",
		}).loadConfig()
		assert.ErrorIs(t, err, config.ErrInvalidListenAddress)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := (&serveCfg{
			configPath: filepath.Join(t.TempDir(), "missing.toml"),
		}).loadConfig()
		assert.Error(t, err)
	})
}

func TestServe_NotifyURL(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Empty(t, notifyURL(cfg))

	cfg.Notify = &config.Notify{
		RedisURL: "redis://config:6379/0",
	}
	assert.Equal(t, "redis://config:6379/0", notifyURL(cfg))

	t.Setenv("FXSNAP_REDIS_URL", "redis://env:6379/1")
	assert.Equal(t, "redis://env:6379/1", notifyURL(cfg))
}
