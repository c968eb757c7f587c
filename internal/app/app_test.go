package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/platform/config"
	"rollcall/internal/platform/logger"
)

func TestBuild_MemoryStoreOnlyInDev(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()
	a, err := Build(ctx, cfg, logger.Discard(), Options{AllowMemoryStore: true, InlineDispatch: true})
	require.NoError(t, err)
	assert.Nil(t, a.Queue)
	assert.NotNil(t, a.Sync)
	assert.Empty(t, a.Health(ctx), "nothing external is configured")
	a.Close()

	cfg.Server.Environment = "production"
	_, err = Build(ctx, cfg, logger.Discard(), Options{AllowMemoryStore: true})
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestBuild_QueuedDispatchByDefault(t *testing.T) {
	a, err := Build(context.Background(), config.Default(), logger.Discard(), Options{AllowMemoryStore: true})
	require.NoError(t, err)
	defer a.Close()
	assert.NotNil(t, a.Queue)
}

func TestBuild_FailuresReturnErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		opts   Options
	}{
		{
			name:   "bad legacy url",
			mutate: func(c *config.Config) { c.Legacy.BaseURL = "://nope" },
			opts:   Options{AllowMemoryStore: true, InlineDispatch: true},
		},
		{
			name:   "bad legacy url with queue",
			mutate: func(c *config.Config) { c.Legacy.BaseURL = "://nope" },
			opts:   Options{AllowMemoryStore: true},
		},
		{
			name:   "production without database",
			mutate: func(c *config.Config) { c.Server.Environment = "production" },
			opts:   Options{AllowMemoryStore: true},
		},
		{
			name:   "memory store not allowed",
			mutate: func(*config.Config) {},
			opts:   Options{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			var (
				a   *App
				err error
			)
			require.NotPanics(t, func() {
				a, err = Build(context.Background(), cfg, logger.Discard(), tt.opts)
			})
			assert.Error(t, err)
			assert.Nil(t, a)
		})
	}
}

func TestClose_NilApp(t *testing.T) {
	var a *App
	assert.NotPanics(t, a.Close)
}
