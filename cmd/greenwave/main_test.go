package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/greenwave/internal/config"
)

func TestResolveNotifierURL(t *testing.T) {
	configured := "https://ops.example/hook"
	cfg := &config.EngineConfig{NotifierURL: &configured}

	assert.Equal(t, configured, resolveNotifierURL("", cfg))
	assert.Equal(t, "http://localhost:9000/alerts", resolveNotifierURL("http://localhost:9000/alerts", cfg))
	assert.Empty(t, resolveNotifierURL("", &config.EngineConfig{}))
}
