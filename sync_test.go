package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relieftools/fieldsync/internal/config"
)

// withConfig swaps the resolved config for the duration of a test.
func withConfig(t *testing.T, cfg *config.Resolved) {
	t.Helper()

	orig := resolvedCfg
	resolvedCfg = cfg

	t.Cleanup(func() { resolvedCfg = orig })
}

func TestNotifyURL(t *testing.T) {
	tests := []struct {
		name   string
		server string
		want   string
	}{
		{"https", "https://coord.example.org", "wss://coord.example.org/sync/notify"},
		{"http", "http://192.168.4.1:8080", "ws://192.168.4.1:8080/sync/notify"},
		{"trailing slash", "https://coord.example.org/", "wss://coord.example.org/sync/notify"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withConfig(t, &config.Resolved{ServerURL: tt.server})
			assert.Equal(t, tt.want, notifyURL())
		})
	}
}

func TestAuthHeader(t *testing.T) {
	t.Run("with token", func(t *testing.T) {
		withConfig(t, &config.Resolved{APIToken: "secret"})

		h := authHeader()
		assert.Equal(t, "Bearer secret", h.Get("Authorization"))
	})

	t.Run("without token", func(t *testing.T) {
		withConfig(t, &config.Resolved{})
		assert.Nil(t, authHeader())
	})
}

func TestDaemonPIDPath(t *testing.T) {
	withConfig(t, &config.Resolved{DBPath: "/var/lib/fieldsync/queue.db"})
	assert.Equal(t, "/var/lib/fieldsync/fieldsync.pid", daemonPIDPath())

	withConfig(t, nil)
	assert.Empty(t, daemonPIDPath())
}
