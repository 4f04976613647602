package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docvault/docvault/internal/inventory"
)

func localItem(path, fp string, size int64) inventory.LocalItem {
	return inventory.LocalItem{Path: path, Fingerprint: fp, Size: size}
}

func remoteItem(path, fp string, size int64) inventory.RemoteItem {
	return inventory.RemoteItem{Key: "media/" + path, Path: path, Fingerprint: fp, Size: size}
}

func newReconciler() *Reconciler {
	return &Reconciler{Prefix: "media/", MaxDeleteRatio: 0.5}
}

func TestBuildAddsLocalOnlyItems(t *testing.T) {
	local := []inventory.LocalItem{localItem("a.pdf", "aaa", 10)}

	p, err := newReconciler().Build(local, nil)
	require.NoError(t, err)

	require.Len(t, p.Ops, 1)
	assert.Equal(t, OpAdd, p.Ops[0].Kind)
	assert.Equal(t, "media/a.pdf", p.Ops[0].Key)
	assert.Equal(t, int64(10), p.UploadBytes)
}

func TestBuildSkipsUnchangedItems(t *testing.T) {
	local := []inventory.LocalItem{localItem("a.pdf", "aaa", 10)}
	remote := []inventory.RemoteItem{remoteItem("a.pdf", "aaa", 10)}

	p, err := newReconciler().Build(local, remote)
	require.NoError(t, err)

	assert.True(t, p.Empty())
	assert.Equal(t, 1, p.Skipped)
}

func TestBuildUpdatesChangedContent(t *testing.T) {
	local := []inventory.LocalItem{localItem("a.pdf", "new", 12)}
	remote := []inventory.RemoteItem{remoteItem("a.pdf", "old", 10)}

	p, err := newReconciler().Build(local, remote)
	require.NoError(t, err)

	// Modified content is exactly one Update, never a Delete+Add pair.
	require.Len(t, p.Ops, 1)
	assert.Equal(t, OpUpdate, p.Ops[0].Kind)
	assert.Equal(t, 0, p.DeleteCount)
}

func TestBuildTreatsMissingRemoteFingerprintAsChanged(t *testing.T) {
	local := []inventory.LocalItem{localItem("a.pdf", "aaa", 10)}
	remote := []inventory.RemoteItem{remoteItem("a.pdf", "", 10)}

	p, err := newReconciler().Build(local, remote)
	require.NoError(t, err)

	require.Len(t, p.Ops, 1)
	assert.Equal(t, OpUpdate, p.Ops[0].Kind)
}

func TestBuildDeletesRemoteOnlyItems(t *testing.T) {
	local := []inventory.LocalItem{
		localItem("a.pdf", "aaa", 10),
		localItem("b.pdf", "bbb", 10),
		localItem("c.pdf", "ccc", 10),
	}
	remote := []inventory.RemoteItem{
		remoteItem("a.pdf", "aaa", 10),
		remoteItem("b.pdf", "bbb", 10),
		remoteItem("c.pdf", "ccc", 10),
		remoteItem("gone.pdf", "ddd", 10),
	}

	p, err := newReconciler().Build(local, remote)
	require.NoError(t, err)

	require.Len(t, p.Ops, 1)
	assert.Equal(t, OpDelete, p.Ops[0].Kind)
	assert.Equal(t, "media/gone.pdf", p.Ops[0].Key)
}

func TestBuildIsIdempotentOnMatchingState(t *testing.T) {
	local := []inventory.LocalItem{
		localItem("a.pdf", "aaa", 10),
		localItem("b.pdf", "bbb", 20),
	}
	remote := []inventory.RemoteItem{
		remoteItem("a.pdf", "aaa", 10),
		remoteItem("b.pdf", "bbb", 20),
	}

	r := newReconciler()
	first, err := r.Build(local, remote)
	require.NoError(t, err)
	second, err := r.Build(local, remote)
	require.NoError(t, err)

	assert.True(t, first.Empty())
	assert.True(t, second.Empty())
}

func TestBuildUploadsBeforeDeletes(t *testing.T) {
	local := []inventory.LocalItem{
		localItem("z.pdf", "zzz", 5),
		localItem("a.pdf", "aaa", 5),
	}
	remote := []inventory.RemoteItem{
		remoteItem("a.pdf", "aaa", 5),
		remoteItem("b.pdf", "bbb", 5),
		remoteItem("c.pdf", "ccc", 5),
		remoteItem("d.pdf", "ddd", 5),
	}

	// 1 delete of 4 remote objects stays under the risk threshold.
	r := &Reconciler{Prefix: "media/", MaxDeleteRatio: 0.9}
	p, err := r.Build(local, remote)
	require.NoError(t, err)

	require.Len(t, p.Ops, 4)
	assert.Equal(t, OpAdd, p.Ops[0].Kind)
	for _, op := range p.Ops[1:] {
		assert.Equal(t, OpDelete, op.Kind)
	}
}

func TestBuildNeverEmitsAddAndDeleteForSameKey(t *testing.T) {
	local := []inventory.LocalItem{localItem("a.pdf", "new", 12)}
	remote := []inventory.RemoteItem{remoteItem("a.pdf", "old", 10)}

	p, err := newReconciler().Build(local, remote)
	require.NoError(t, err)

	seen := map[string]int{}
	for _, op := range p.Ops {
		seen[op.Path]++
	}
	for path, count := range seen {
		assert.Equal(t, 1, count, "path %s has %d operations", path, count)
	}
}

func TestFullModeReuploadsUnchangedContent(t *testing.T) {
	local := []inventory.LocalItem{localItem("a.pdf", "aaa", 10)}
	remote := []inventory.RemoteItem{
		remoteItem("a.pdf", "aaa", 10),
		remoteItem("gone.pdf", "bbb", 10),
	}

	r := &Reconciler{Prefix: "media/", MaxDeleteRatio: 0.5, Full: true}
	p, err := r.Build(local, remote)
	require.NoError(t, err)

	require.Len(t, p.Ops, 2)
	assert.Equal(t, OpUpdate, p.Ops[0].Kind)
	assert.Equal(t, OpDelete, p.Ops[1].Kind)
	assert.Equal(t, 0, p.Skipped)
}

func TestBuildFlagsHighRiskWipe(t *testing.T) {
	var remote []inventory.RemoteItem
	for i := 0; i < 100; i++ {
		remote = append(remote, remoteItem(string(rune('a'+i%26))+string(rune('0'+i/26))+".pdf", "x", 1))
	}

	p, err := newReconciler().Build(nil, remote)

	var riskErr *HighRiskError
	require.ErrorAs(t, err, &riskErr)
	assert.Equal(t, 100, riskErr.Deletes)
	assert.Equal(t, 100, riskErr.RemoteCount)
	assert.InDelta(t, 1.0, riskErr.Ratio, 0.001)

	// The plan itself is still available for a confirmed execution.
	require.NotNil(t, p)
	assert.Equal(t, 100, p.DeleteCount)
}

func TestBuildAllowsDeletionsUnderThreshold(t *testing.T) {
	local := []inventory.LocalItem{
		localItem("a.pdf", "aaa", 1),
		localItem("b.pdf", "bbb", 1),
	}
	remote := []inventory.RemoteItem{
		remoteItem("a.pdf", "aaa", 1),
		remoteItem("b.pdf", "bbb", 1),
		remoteItem("c.pdf", "ccc", 1),
	}

	p, err := newReconciler().Build(local, remote)
	require.NoError(t, err)
	assert.Equal(t, 1, p.DeleteCount)
}

func TestBuildPreservesRemoteCopyOfUnscannableFile(t *testing.T) {
	// a.pdf exists locally but could not be read this cycle; its
	// remote copy must survive, not be classified remote-only.
	local := []inventory.LocalItem{
		localItem("b.pdf", "bbb", 10),
		localItem("c.pdf", "ccc", 10),
		localItem("d.pdf", "ddd", 10),
	}
	remote := []inventory.RemoteItem{
		remoteItem("a.pdf", "aaa", 10),
		remoteItem("b.pdf", "bbb", 10),
		remoteItem("c.pdf", "ccc", 10),
		remoteItem("d.pdf", "ddd", 10),
	}

	r := newReconciler()
	r.Unscannable = []string{"a.pdf"}

	p, err := r.Build(local, remote)
	require.NoError(t, err)

	assert.Equal(t, 0, p.DeleteCount)
	for _, op := range p.Ops {
		assert.NotEqual(t, OpDelete, op.Kind)
	}
	assert.Equal(t, 4, p.Skipped)
}

func TestBuildPreservesRemoteCopiesUnderUnscannableDir(t *testing.T) {
	remote := []inventory.RemoteItem{
		remoteItem("archive/2019/a.pdf", "aaa", 10),
		remoteItem("archive/2019/b.pdf", "bbb", 10),
		remoteItem("gone.pdf", "ggg", 10),
	}

	r := newReconciler()
	r.Unscannable = []string{"archive/2019"}

	p, err := r.Build(nil, remote)
	require.NoError(t, err)

	// Only the genuinely removed file is deleted; everything under the
	// unreadable directory is untouched.
	require.Equal(t, 1, p.DeleteCount)
	assert.Equal(t, "gone.pdf", p.Ops[0].Path)
	assert.Equal(t, 2, p.Skipped)
}

func TestBuildDoesNotShieldSimilarlyPrefixedSiblings(t *testing.T) {
	remote := []inventory.RemoteItem{
		remoteItem("archive/2019-extra/a.pdf", "aaa", 10),
	}

	r := newReconciler()
	r.Unscannable = []string{"archive/2019"}
	r.MaxDeleteRatio = 1.0

	p, err := r.Build(nil, remote)
	require.NoError(t, err)
	require.Equal(t, 1, p.DeleteCount)
}
