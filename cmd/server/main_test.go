package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andy6609/textserver/internal/config"
)

func TestParseArgs_ColonAndEqualsForms(t *testing.T) {
	var stderr bytes.Buffer
	opts, err := parseArgs([]string{"-port:4000", "-database=users.db", "-start:boot.txt", "-metrics::9090"}, &stderr)
	require.NoError(t, err)

	cfg := config.Default()
	opts.apply(cfg)
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, "users.db", cfg.Database)
	assert.Equal(t, "boot.txt", cfg.Start)
	assert.Equal(t, ":9090", cfg.Metrics.Listen)
}

func TestParseArgs_RejectsUnknown(t *testing.T) {
	var stderr bytes.Buffer
	_, err := parseArgs([]string{"-bogus:1"}, &stderr)
	assert.Error(t, err)
	assert.Contains(t, stderr.String(), "usage:")

	stderr.Reset()
	_, err = parseArgs([]string{"-port:1", "extra"}, &stderr)
	assert.Error(t, err)
}

func TestParseArgs_MissingPortFailsValidation(t *testing.T) {
	opts, err := parseArgs(nil, &bytes.Buffer{})
	require.NoError(t, err)
	cfg := config.Default()
	opts.apply(cfg)
	assert.Error(t, cfg.Validate())
}
