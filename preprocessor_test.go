package keelc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, dir, name, contents string) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestPreprocessorInlinesGetDirective(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "util.k", "LET square(x) = x * x\n")
	root := writeTempFile(t, dir, "main.k", "GET \"util.k\"\nLET main() = square(4)\n")

	p := NewPreprocessor()
	out, err := p.Process(root)
	require.NoError(t, err)
	require.Contains(t, out, "LET square(x) = x * x")
	require.Contains(t, out, "LET main() = square(4)")
	require.Contains(t, out, "//LINE 1 \"")
}

func TestPreprocessorDetectsCircularInclude(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.k")
	bPath := filepath.Join(dir, "b.k")
	require.NoError(t, os.WriteFile(aPath, []byte("GET \"b.k\"\n"), 0o644))
	require.NoError(t, os.WriteFile(bPath, []byte("GET \"a.k\"\n"), 0o644))

	p := NewPreprocessor()
	_, err := p.Process(aPath)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Circular GET dependency")
}

func TestPreprocessorResolvesIncludeViaSearchPath(t *testing.T) {
	dir := t.TempDir()
	incDir := filepath.Join(dir, "include")
	require.NoError(t, os.MkdirAll(incDir, 0o755))
	writeTempFile(t, incDir, "shared.k", "LET id(x) = x\n")
	root := writeTempFile(t, dir, "main.k", "GET \"shared.k\"\n")

	p := NewPreprocessor(incDir)
	out, err := p.Process(root)
	require.NoError(t, err)
	require.Contains(t, out, "LET id(x) = x")
}

func TestPreprocessorMissingIncludeIsAnError(t *testing.T) {
	dir := t.TempDir()
	root := writeTempFile(t, dir, "main.k", "GET \"missing.k\"\n")

	p := NewPreprocessor()
	_, err := p.Process(root)
	require.Error(t, err)
}
