package ledger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Ledger tracks transaction hashes that have already been alerted.
// It is backed by an in-memory set seeded from an append-only text file,
// one hash per line. The file is never truncated.
type Ledger struct {
	path   string
	logger zerolog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
	file *os.File
}

// Open loads the ledger file (creating it if absent) and returns a handle.
func Open(path string, logger zerolog.Logger) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}

	l := &Ledger{
		path:   path,
		logger: logger.With().Str("component", "ledger").Logger(),
		seen:   make(map[string]struct{}),
		file:   file,
	}

	if err := l.Reload(); err != nil {
		_ = file.Close()
		return nil, err
	}
	return l, nil
}

// Reload merges the file contents into the in-memory set. Duplicate and
// blank lines are tolerated; loading twice yields the same set as loading
// once.
func (l *Ledger) Reload() error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read ledger file: %w", err)
	}
	defer f.Close()

	l.mu.Lock()
	defer l.mu.Unlock()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		hash := strings.TrimSpace(scanner.Text())
		if hash == "" {
			continue
		}
		l.seen[hash] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan ledger file: %w", err)
	}
	return nil
}

// Seen reports whether the hash has already been alerted.
func (l *Ledger) Seen(hash string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[hash]
	return ok
}

// MarkSeen records the hash durably before returning. Marking an
// already-seen hash is a no-op. The append and fsync complete before the
// in-memory set is visible to callers, so a crash right after MarkSeen
// cannot produce a duplicate alert on restart.
func (l *Ledger) MarkSeen(hash string) error {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return fmt.Errorf("empty transaction hash")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[hash]; ok {
		return nil
	}

	if _, err := l.file.WriteString(hash + "\n"); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync ledger file: %w", err)
	}

	l.seen[hash] = struct{}{}
	return nil
}

// Len returns the number of distinct hashes recorded.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Close releases the underlying file handle.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
