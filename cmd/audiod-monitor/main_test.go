package main

import (
	"testing"
	"time"

	"audiod/internal/core/domain"
	"audiod/internal/infrastructure/distributed"
	"audiod/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatEvent(t *testing.T) {
	ev := &distributed.Event{
		Type:       distributed.EventStreamStatus,
		InstanceID: "node-1",
		Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Kind:       "sink",
		StreamType: "pmedia",
		Reason:     "volume",
		Data:       domain.StreamStatus{Stream: "pmedia", Volume: 30, Active: true, PolicyActive: true},
	}

	line := formatEvent(ev)
	assert.Contains(t, line, "03:04:05.000")
	assert.Contains(t, line, "pmedia")
	assert.Contains(t, line, "volume= 30")
	assert.Contains(t, line, "ducked=true")
	assert.Contains(t, line, "[node-1]")
}

func TestPrintToken(t *testing.T) {
	cfg := config.DefaultConfig()
	require.Error(t, printToken(cfg, "settings", []string{"audio.control"}))

	cfg.Auth.JWTSecret = "secret"
	cfg.Auth.TokenTTL = time.Minute
	assert.NoError(t, printToken(cfg, "settings", []string{"audio.control"}))
}
