package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/dreamware/yesqueldb/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigCheckAcceptsValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.txt")
	require.NoError(t, os.WriteFile(path, []byte("workers = 2\n"), 0o644))
	t.Setenv(config.EnvVar, "")
	configCheckFile = path
	defer func() { configCheckFile = "" }()

	var out bytes.Buffer
	configCheckCmd.SetOut(&out)
	require.NoError(t, configCheckCmd.RunE(configCheckCmd, nil))
	assert.Contains(t, out.String(), "workers=2")
}

func TestConfigCheckFailsOnUnknownOption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.txt")
	require.NoError(t, os.WriteFile(path, []byte("not_real = 1\n"), 0o644))
	configCheckFile = path
	defer func() { configCheckFile = "" }()

	err := configCheckCmd.RunE(configCheckCmd, nil)
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCodeFor(err))
}
