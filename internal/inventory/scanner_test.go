package inventory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func sha256hex(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func TestScanLocalProducesCanonicalItems(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.pdf", "hello")
	writeFile(t, root, "sub/b.pdf", "world!")

	result, err := ScanLocal(context.Background(), root, 4)
	require.NoError(t, err)
	require.Empty(t, result.Errors)
	require.Len(t, result.Items, 2)

	// Sorted by relative slash path.
	assert.Equal(t, "a.pdf", result.Items[0].Path)
	assert.Equal(t, "sub/b.pdf", result.Items[1].Path)

	assert.Equal(t, sha256hex("hello"), result.Items[0].Fingerprint)
	assert.Equal(t, int64(5), result.Items[0].Size)
	assert.Equal(t, sha256hex("world!"), result.Items[1].Fingerprint)
	assert.Equal(t, int64(11), result.TotalBytes())
}

func TestScanLocalIsRepeatable(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.pdf", "hello")

	first, err := ScanLocal(context.Background(), root, 2)
	require.NoError(t, err)
	second, err := ScanLocal(context.Background(), root, 2)
	require.NoError(t, err)

	assert.Equal(t, first.Items, second.Items)
}

func TestScanLocalEmptyCorpus(t *testing.T) {
	result, err := ScanLocal(context.Background(), t.TempDir(), 2)
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.Equal(t, int64(0), result.TotalBytes())
}

func TestScanLocalMissingRootIsFatal(t *testing.T) {
	_, err := ScanLocal(context.Background(), filepath.Join(t.TempDir(), "unmounted"), 2)
	assert.Error(t, err)
}

func TestScanLocalRootMustBeDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "file", "x")

	_, err := ScanLocal(context.Background(), filepath.Join(root, "file"), 2)
	assert.Error(t, err)
}

func TestScanLocalSkipsNonRegularFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.pdf", "hello")
	require.NoError(t, os.Symlink(filepath.Join(root, "a.pdf"), filepath.Join(root, "link.pdf")))

	result, err := ScanLocal(context.Background(), root, 2)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "a.pdf", result.Items[0].Path)
}

func TestScanLocalCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.pdf", "hello")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ScanLocal(ctx, root, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFingerprintFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.pdf", "hello")

	fp, err := FingerprintFile(filepath.Join(root, "a.pdf"))
	require.NoError(t, err)
	assert.Equal(t, sha256hex("hello"), fp)
}
