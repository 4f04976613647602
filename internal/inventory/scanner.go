package inventory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// LocalItem is one file of the document corpus, keyed by its
// slash-separated path relative to the corpus root.
type LocalItem struct {
	Path        string
	Size        int64
	Fingerprint string
	ModTime     int64 // unix seconds
}

// ScanError records a single unreadable path. Scan errors never abort
// a scan; the affected items are excluded and reported.
type ScanError struct {
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("failed to scan %s: %v", e.Path, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

type ScanResult struct {
	Items  []LocalItem
	Errors []*ScanError
}

// TotalBytes is the summed size of every scanned item.
func (r *ScanResult) TotalBytes() int64 {
	var total int64
	for _, item := range r.Items {
		total += item.Size
	}
	return total
}

// Fingerprint hashes r with SHA-256 and returns the hex digest.
func Fingerprint(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintFile hashes the file contents at path.
func FingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Fingerprint(f)
}

// ScanLocal walks root and produces a LocalItem per regular file,
// hashing contents with up to workers goroutines. Re-scanning is always
// safe; the scan does not mutate anything. A missing or unreadable root
// is a hard error, individual unreadable files are collected as
// ScanErrors.
func ScanLocal(ctx context.Context, root string, workers int) (*ScanResult, error) {
	if workers <= 0 {
		workers = 1
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("cannot scan corpus root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus root %s is not a directory", root)
	}

	result := &ScanResult{}

	type candidate struct {
		relPath string
		absPath string
	}
	var candidates []candidate

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			result.Errors = append(result.Errors, &ScanError{Path: filepath.ToSlash(rel), Err: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		candidates = append(candidates, candidate{relPath: filepath.ToSlash(rel), absPath: path})
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("corpus walk failed: %w", walkErr)
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, workers)
	)

	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(c candidate) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			item, err := scanOne(c.absPath, c.relPath)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, &ScanError{Path: c.relPath, Err: err})
				return
			}
			result.Items = append(result.Items, item)
		}(c)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(result.Items, func(i, j int) bool {
		return result.Items[i].Path < result.Items[j].Path
	})
	return result, nil
}

func scanOne(absPath, relPath string) (LocalItem, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return LocalItem{}, err
	}
	defer f.Close()

	// Stat the open handle so size and hash describe the same inode
	// even if the path is replaced mid-scan.
	info, err := f.Stat()
	if err != nil {
		return LocalItem{}, err
	}

	fp, err := Fingerprint(f)
	if err != nil {
		return LocalItem{}, err
	}

	return LocalItem{
		Path:        relPath,
		Size:        info.Size(),
		Fingerprint: fp,
		ModTime:     info.ModTime().Unix(),
	}, nil
}
