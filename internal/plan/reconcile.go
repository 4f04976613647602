package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/docvault/docvault/internal/inventory"
)

// HighRiskError flags a plan whose deletion ratio exceeds the
// configured threshold. The plan itself is still returned alongside the
// error so a caller with explicit confirmation can execute it.
type HighRiskError struct {
	Deletes     int
	RemoteCount int
	Ratio       float64
	Threshold   float64
}

func (e *HighRiskError) Error() string {
	return fmt.Sprintf("plan would delete %d of %d remote objects (%.0f%%, threshold %.0f%%); refusing without confirmation",
		e.Deletes, e.RemoteCount, e.Ratio*100, e.Threshold*100)
}

// Reconciler joins a local and a remote inventory into a Plan.
type Reconciler struct {
	// Prefix is the backup root prepended to relative paths to form
	// storage keys.
	Prefix string

	// MaxDeleteRatio is the fraction of remote objects a plan may
	// delete before it is flagged high-risk.
	MaxDeleteRatio float64

	// Full disables the skip-unchanged shortcut: every local item is
	// re-uploaded regardless of the remote fingerprint, healing silent
	// remote corruption. Remote-only items are deleted either way.
	Full bool

	// Unscannable lists paths (files or directories, relative to the
	// corpus root) that failed to scan this cycle. Remote copies under
	// them are left untouched: absence from the local inventory proves
	// nothing about such paths, and deleting their only offsite copy is
	// exactly the loss a backup exists to prevent.
	Unscannable []string
}

// Build computes the minimal operation set that makes the remote match
// the local corpus. When the plan is high-risk, Build returns it
// together with a *HighRiskError.
func (r *Reconciler) Build(local []inventory.LocalItem, remote []inventory.RemoteItem) (*Plan, error) {
	remoteByPath := make(map[string]*inventory.RemoteItem, len(remote))
	for i := range remote {
		remoteByPath[remote[i].Path] = &remote[i]
	}

	p := &Plan{}
	var uploads, deletes []Operation

	for i := range local {
		item := &local[i]
		rem, exists := remoteByPath[item.Path]

		switch {
		case !exists:
			uploads = append(uploads, Operation{
				Kind:  OpAdd,
				Path:  item.Path,
				Key:   r.Prefix + item.Path,
				Local: item,
			})
		case r.Full || changed(item, rem):
			uploads = append(uploads, Operation{
				Kind:   OpUpdate,
				Path:   item.Path,
				Key:    rem.Key,
				Local:  item,
				Remote: rem,
			})
		default:
			p.Skipped++
		}

		delete(remoteByPath, item.Path)
	}

	for _, rem := range remoteByPath {
		if r.unscannable(rem.Path) {
			p.Skipped++
			continue
		}
		deletes = append(deletes, Operation{
			Kind:   OpDelete,
			Path:   rem.Path,
			Key:    rem.Key,
			Remote: rem,
		})
	}

	sort.Slice(uploads, func(i, j int) bool { return uploads[i].Path < uploads[j].Path })
	sort.Slice(deletes, func(i, j int) bool { return deletes[i].Path < deletes[j].Path })

	p.Ops = append(uploads, deletes...)
	p.UploadCount = len(uploads)
	p.DeleteCount = len(deletes)
	for _, op := range uploads {
		p.UploadBytes += op.UploadBytes()
	}

	if err := r.checkRisk(p, len(remote)); err != nil {
		return p, err
	}
	return p, nil
}

func (r *Reconciler) checkRisk(p *Plan, remoteCount int) error {
	if remoteCount == 0 || p.DeleteCount == 0 {
		return nil
	}
	threshold := r.MaxDeleteRatio
	if threshold <= 0 {
		threshold = 0.5
	}
	ratio := float64(p.DeleteCount) / float64(remoteCount)
	if ratio > threshold {
		return &HighRiskError{
			Deletes:     p.DeleteCount,
			RemoteCount: remoteCount,
			Ratio:       ratio,
			Threshold:   threshold,
		}
	}
	return nil
}

// unscannable reports whether path failed to scan, either directly or
// through an errored parent directory.
func (r *Reconciler) unscannable(path string) bool {
	for _, p := range r.Unscannable {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// changed reports whether the local content differs from the remote
// copy. A remote object with no stored fingerprint is treated as
// changed: re-uploading is safe, assuming a match is not.
func changed(local *inventory.LocalItem, remote *inventory.RemoteItem) bool {
	if remote.Fingerprint == "" {
		return true
	}
	return local.Fingerprint != remote.Fingerprint || local.Size != remote.Size
}
