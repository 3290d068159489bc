package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/deusflow/newspick/internal/ledger"
)

// lockRetryDelay is how often a blocked Lock polls the lock file.
const lockRetryDelay = 250 * time.Millisecond

// ledgerFile is the on-disk document: { "sent_news": [ ... ] }.
type ledgerFile struct {
	SentNews []ledger.Entry `json:"sent_news"`
}

// FileStore keeps the delivery ledger in a single JSON file.
type FileStore struct {
	filePath string
	lock     *flock.Flock
}

// NewFileStore creates a file store; the file is created on first Save.
func NewFileStore(filePath string) *FileStore {
	return &FileStore{
		filePath: filePath,
		lock:     flock.New(filePath + ".lock"),
	}
}

func (fs *FileStore) Path() string {
	return fs.filePath
}

// Load reads the ledger file. A missing or empty file is an empty ledger;
// undecodable content is reported as ledger.ErrCorrupt.
func (fs *FileStore) Load(_ context.Context) ([]ledger.Entry, error) {
	data, err := os.ReadFile(fs.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	}

	if len(data) == 0 {
		return nil, nil
	}

	var doc ledgerFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ledger.ErrCorrupt, fs.filePath, err)
	}
	for i, e := range doc.SentNews {
		if e.SentTime.IsZero() {
			return nil, fmt.Errorf("%w: %s: entry %d has no sent_time", ledger.ErrCorrupt, fs.filePath, i)
		}
	}

	return doc.SentNews, nil
}

// Save writes the ledger to a temporary file next to the target and renames
// it into place, so a failed write leaves the previous file intact.
func (fs *FileStore) Save(_ context.Context, entries []ledger.Entry) error {
	if entries == nil {
		entries = []ledger.Entry{}
	}
	data, err := json.MarshalIndent(ledgerFile{SentNews: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	dir := filepath.Dir(fs.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(fs.filePath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write ledger file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close ledger file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to chmod ledger file: %w", err)
	}

	if err := os.Rename(tmpName, fs.filePath); err != nil {
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}
	return nil
}

// Lock takes an exclusive advisory lock on a sibling ".lock" file, waiting
// until it is free or ctx is done.
func (fs *FileStore) Lock(ctx context.Context) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(fs.filePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	ok, err := fs.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to lock ledger: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("failed to lock ledger: %s is held by another process", fs.lock.Path())
	}
	return fs.lock.Unlock, nil
}
