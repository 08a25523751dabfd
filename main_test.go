package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fqdnguard/fqdnguard/middleware"
)

func Test_Setup(t *testing.T) {
	flagcfgpath = filepath.Join(t.TempDir(), "fqdnguard.conf")

	cfg, err := setup()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:53", cfg.Bind)
	assert.Equal(t, "8.8.8.8:53", cfg.Upstream)

	var names []string
	for _, h := range middleware.Handlers() {
		names = append(names, h.Name())
	}

	assert.Equal(t, []string{
		"recovery",
		"metrics",
		"accesslist",
		"ratelimit",
		"accesslog",
		"filter",
		"forwarder",
	}, names)

	_, err = setup()
	assert.Error(t, err)
}
