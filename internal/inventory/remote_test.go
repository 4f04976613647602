package inventory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docvault/docvault/internal/storage"
)

func seedRemote(t *testing.T, p *storage.MemoryProvider, key, content, fingerprint string) {
	t.Helper()
	meta := map[string]string{}
	if fingerprint != "" {
		meta[storage.MetaFingerprint] = fingerprint
	}
	require.NoError(t, p.Upload(context.Background(), key, bytes.NewReader([]byte(content)), meta))
}

func TestFetchRemoteResolvesFingerprints(t *testing.T) {
	p := storage.NewMemoryProvider()
	seedRemote(t, p, "media/a.pdf", "hello", "fp-a")
	seedRemote(t, p, "media/sub/b.pdf", "world", "fp-b")
	seedRemote(t, p, "db/db_backup_1.sql.gz", "dump", "fp-db")

	items, err := FetchRemote(context.Background(), p, "media/", 4)
	require.NoError(t, err)
	require.Len(t, items, 2)

	byPath := map[string]RemoteItem{}
	for _, item := range items {
		byPath[item.Path] = item
	}

	a := byPath["a.pdf"]
	assert.Equal(t, "media/a.pdf", a.Key)
	assert.Equal(t, int64(5), a.Size)
	assert.Equal(t, "fp-a", a.Fingerprint)
	assert.Equal(t, "fp-b", byPath["sub/b.pdf"].Fingerprint)
}

func TestFetchRemoteMissingFingerprintStaysEmpty(t *testing.T) {
	p := storage.NewMemoryProvider()
	seedRemote(t, p, "media/a.pdf", "hello", "")

	items, err := FetchRemote(context.Background(), p, "media/", 2)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Empty(t, items[0].Fingerprint)
}

type failingLister struct {
	*storage.MemoryProvider
}

func (f *failingLister) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	return nil, errors.New("listing truncated")
}

func TestFetchRemoteListFailureIsFatal(t *testing.T) {
	p := &failingLister{storage.NewMemoryProvider()}

	_, err := FetchRemote(context.Background(), p, "media/", 2)

	var listErr *RemoteListError
	require.ErrorAs(t, err, &listErr)
}

type failingHeader struct {
	*storage.MemoryProvider
}

func (f *failingHeader) Head(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	return nil, errors.New("metadata unavailable")
}

func TestFetchRemoteHeadFailureDegradesToUnknownFingerprint(t *testing.T) {
	inner := storage.NewMemoryProvider()
	seedRemote(t, inner, "media/a.pdf", "hello", "fp-a")

	items, err := FetchRemote(context.Background(), &failingHeader{inner}, "media/", 2)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Empty(t, items[0].Fingerprint)
}
