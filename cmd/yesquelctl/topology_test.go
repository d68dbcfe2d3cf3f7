package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopologyImportExportRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")
	contents := "servers:\n" +
		"  - id: s1\n" +
		"    issuer_hint: 1\n" +
		"    addr: 127.0.0.1:11223\n" +
		"  - id: s2\n" +
		"    issuer_hint: 2\n" +
		"    addr: 127.0.0.1:11224\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	top, err := loadTopology(path)
	require.NoError(t, err)
	require.Len(t, top.Servers, 2)
	assert.Equal(t, "s1", top.Servers[0].ID)
	assert.Equal(t, "127.0.0.1:11224", top.Servers[1].Addr)

	exportPath := filepath.Join(dir, "out.yaml")
	topologyImportFile = path
	topologyExportFile = exportPath
	require.NoError(t, topologyExportCmd.RunE(topologyExportCmd, nil))

	reloaded, err := loadTopology(exportPath)
	require.NoError(t, err)
	assert.Equal(t, top, reloaded)
}

func TestLoadTopologyRejectsDuplicateIssuerHint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")
	contents := "servers:\n" +
		"  - id: s1\n" +
		"    issuer_hint: 1\n" +
		"    addr: a\n" +
		"  - id: s2\n" +
		"    issuer_hint: 1\n" +
		"    addr: b\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	_, err := loadTopology(path)
	assert.Error(t, err)
}

func TestTopologyImportCommandPrintsServers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte("servers:\n  - id: s1\n    issuer_hint: 1\n    addr: a\n"), 0o644))
	topologyImportFile = path

	var out bytes.Buffer
	topologyImportCmd.SetOut(&out)
	require.NoError(t, topologyImportCmd.RunE(topologyImportCmd, nil))
	assert.Contains(t, out.String(), "s1")
}
