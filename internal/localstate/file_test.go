package localstate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/planning-poker/internal/coordinator"
)

func TestFile_LoadMissingIsEmpty(t *testing.T) {
	f := Open(t.TempDir())
	c, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, coordinator.Credentials{}, c)
}

func TestFile_SaveThenLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	f := Open(dir)

	want := coordinator.Credentials{DisplayName: "Alice", SessionID: "ABC123", PlayerID: "p-1"}
	require.NoError(t, f.Save(want))

	got, err := Open(dir).Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// clearing the session keeps the name
	require.NoError(t, f.Save(coordinator.Credentials{DisplayName: "Alice"}))
	got, err = f.Load()
	require.NoError(t, err)
	assert.Equal(t, coordinator.Credentials{DisplayName: "Alice"}, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFile_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte("{nope"), 0o600))
	_, err := Open(dir).Load()
	assert.Error(t, err)
}
