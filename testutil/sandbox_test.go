package testutil

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Test that files are created under the sandbox with their parent
// directories.
func TestSandboxJoin(t *testing.T) {
	sb := NewSandbox()
	defer sb.Close()

	require.DirExists(t, sb.BasePath)

	aFile, err := sb.Join("a")
	require.NoError(t, err)
	require.FileExists(t, aFile)
	require.True(t, strings.HasSuffix(aFile, "/a"))

	cFile, err := sb.Join("b/c")
	require.NoError(t, err)
	require.FileExists(t, cFile)
	require.True(t, strings.HasSuffix(cFile, "/b/c"))
}

// Test that directories are created under the sandbox.
func TestSandboxJoinDir(t *testing.T) {
	sb := NewSandbox()
	defer sb.Close()

	cDir, err := sb.JoinDir("b/c")
	require.NoError(t, err)
	require.DirExists(t, cDir)
	require.True(t, strings.HasSuffix(cDir, "/b/c"))
}

// Test that the file content is written.
func TestSandboxWrite(t *testing.T) {
	sb := NewSandbox()
	defer sb.Close()

	fpath, err := sb.Write("abc", "def")
	require.NoError(t, err)
	require.Contains(t, fpath, "abc")

	content, err := os.ReadFile(fpath)
	require.NoError(t, err)
	require.EqualValues(t, "def", content)
}

// Test that writing an invalid path returns an error.
func TestSandboxWriteFail(t *testing.T) {
	sb := NewSandbox()
	defer sb.Close()

	fpath, err := sb.Write("/", "abc")
	require.Error(t, err)
	require.Empty(t, fpath)
}

// Test that closing the sandbox removes its directory.
func TestSandboxClose(t *testing.T) {
	sb := NewSandbox()
	defer sb.Close()

	_, err := sb.Join("a")
	require.NoError(t, err)
	_, err = sb.JoinDir("d/e/f")
	require.NoError(t, err)

	sb.Close()
	require.NoDirExists(t, sb.BasePath)
}
