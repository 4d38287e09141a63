package main

import (
	"testing"
	"time"

	"github.com/SergeiKhy/guest-urls/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewDispatchRouter_WithoutUpstreamWarns(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	routes, err := newDispatchRouter(config.UpstreamConfig{}, zap.New(core))
	require.NoError(t, err)
	assert.Empty(t, routes.Routes())

	warnings := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "UPSTREAM_URL is empty")
}

func TestNewDispatchRouter_Upstream(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	routes, err := newDispatchRouter(config.UpstreamConfig{URL: "http://backend:8000", Timeout: time.Second}, zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, []string{"upstream"}, routes.Routes())
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())

	m, err := routes.Resolve("/reports/42/")
	require.NoError(t, err)
	assert.Equal(t, "/reports/42/", m.Kwargs["path"])
}

func TestNewDispatchRouter_InvalidUpstream(t *testing.T) {
	_, err := newDispatchRouter(config.UpstreamConfig{URL: "ftp://backend"}, zap.NewNop())
	assert.Error(t, err)
}
