package inventory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/docvault/docvault/internal/storage"
)

// RemoteItem is one object under the backup root, keyed by its path
// relative to the backup prefix so it joins directly against LocalItem.
type RemoteItem struct {
	Key          string
	Path         string
	Size         int64
	Fingerprint  string // empty when the object carries no stored hash
	LastModified int64  // unix seconds
}

// RemoteListError means the remote inventory could not be enumerated
// completely. It is fatal: an incomplete listing would misclassify
// live files as deletions.
type RemoteListError struct {
	Err error
}

func (e *RemoteListError) Error() string {
	return fmt.Sprintf("failed to list remote inventory: %v", e.Err)
}

func (e *RemoteListError) Unwrap() error { return e.Err }

// FetchRemote lists every object under prefix and resolves stored
// fingerprints with up to workers concurrent metadata reads. An object
// whose metadata cannot be read keeps an empty fingerprint and is later
// treated as changed, which errs toward re-upload rather than data loss.
func FetchRemote(ctx context.Context, provider storage.Provider, prefix string, workers int) ([]RemoteItem, error) {
	if workers <= 0 {
		workers = 1
	}

	objects, err := provider.List(ctx, prefix)
	if err != nil {
		return nil, &RemoteListError{Err: err}
	}

	items := make([]RemoteItem, len(objects))
	for i, obj := range objects {
		items[i] = RemoteItem{
			Key:          obj.Key,
			Path:         strings.TrimPrefix(obj.Key, prefix),
			Size:         obj.Size,
			LastModified: obj.LastModified.Unix(),
		}
	}

	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, workers)
	)

	for i := range items {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(item *RemoteItem) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			info, err := provider.Head(ctx, item.Key)
			if err != nil {
				return
			}
			item.Fingerprint = info.Fingerprint
		}(&items[i])
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, &RemoteListError{Err: err}
	}
	return items, nil
}
