// ABOUTME: Tests for the persona registry: built-ins, TOML loading, fallback rules.
// ABOUTME: TOML fixtures are written to t.TempDir.

package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePersona(t *testing.T, dir, filename, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644))
}

func TestNewRegistry_HasBuiltins(t *testing.T) {
	r := NewRegistry()

	p, ok := r.Get("assistant")
	require.True(t, ok)
	assert.NotEmpty(t, p.System)

	_, ok = r.Get("expert")
	assert.True(t, ok)
}

func TestRegistry_System_FallsBackToDefault(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, r.System(DefaultPersona), r.System("no-such-persona"))
	assert.NotEmpty(t, r.System(""))
}

func TestRegistry_LoadDir_AddsPersona(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "pirate.toml", `
name = "pirate"
description = "Talks like a pirate"
system = "You are a pirate. Answer every question in pirate speak."
`)

	r := NewRegistry()
	require.NoError(t, r.LoadDir(dir))

	p, ok := r.Get("pirate")
	require.True(t, ok)
	assert.Equal(t, "Talks like a pirate", p.Description)
	assert.Contains(t, r.Names(), "pirate")
}

func TestRegistry_LoadDir_ShadowsBuiltin(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "assistant.toml", `
name = "assistant"
system = "Custom deployment prompt."
`)

	r := NewRegistry()
	require.NoError(t, r.LoadDir(dir))
	assert.Equal(t, "Custom deployment prompt.", r.System("assistant"))
}

func TestRegistry_LoadDir_IgnoresNonTOMLFiles(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "notes.txt", "not a persona")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.toml"), 0o755))

	r := NewRegistry()
	require.NoError(t, r.LoadDir(dir))
	assert.Len(t, r.Names(), 2)
}

func TestRegistry_LoadDir_RejectsIncompletePersona(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "broken.toml", `
description = "missing name and system"
`)

	r := NewRegistry()
	assert.Error(t, r.LoadDir(dir))
}

func TestRegistry_LoadDir_RejectsMalformedTOML(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "bad.toml", `name = [unclosed`)

	r := NewRegistry()
	assert.Error(t, r.LoadDir(dir))
}

func TestRegistry_LoadDir_MissingDirectory(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.LoadDir(filepath.Join(t.TempDir(), "absent")))
}
