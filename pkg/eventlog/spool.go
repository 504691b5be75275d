package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/cklose2000/eventlake/pkg/events"
)

const (
	spoolSuffix   = ".spool.gz"
	spoolLockName = ".lock"
)

// spool is a bounded on-disk queue of failed batches. File names start with
// the write timestamp in unix nanoseconds, so lexicographic order is
// chronological. A directory lock file guards against two clients replaying
// the same spool.
type spool struct {
	dir string
	seq atomic.Uint64
}

// openSpool creates the directory, takes the exclusive lock and removes
// files older than maxAge. maxAge <= 0 disables compaction.
func openSpool(dir string, maxAge time.Duration) (*spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	lockPath := filepath.Join(dir, spoolLockName)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("spool %s is locked by another client (remove %s if stale)", dir, lockPath)
		}
		return nil, fmt.Errorf("failed to lock spool: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()

	s := &spool{dir: dir}
	if maxAge > 0 {
		s.compact(maxAge)
	}
	return s, nil
}

// Close releases the directory lock.
func (s *spool) Close() error {
	return os.Remove(filepath.Join(s.dir, spoolLockName))
}

// Write persists one batch as a gzip JSON-lines file. The file is written
// to a temp name and renamed so a crash never leaves a partial spool file.
func (s *spool) Write(batch []*events.Event) (string, error) {
	name := fmt.Sprintf("%d-%04d%s", time.Now().UnixNano(), s.seq.Add(1), spoolSuffix)
	tmp := filepath.Join(s.dir, name+".tmp")

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create spool file: %w", err)
	}
	zw := gzip.NewWriter(f)
	enc := json.NewEncoder(zw)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			f.Close()
			os.Remove(tmp)
			return "", fmt.Errorf("failed to encode spooled event: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finish spool file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to close spool file: %w", err)
	}

	final := filepath.Join(s.dir, name)
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to publish spool file: %w", err)
	}
	return name, nil
}

// Files returns spool file names in chronological order.
func (s *spool) Files() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list spool: %w", err)
	}
	var names []string
	for _, ent := range entries {
		if !ent.IsDir() && strings.HasSuffix(ent.Name(), spoolSuffix) {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Read decodes one spool file.
func (s *spool) Read(name string) ([]*events.Event, error) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to open spool file: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("spool file %s is corrupt: %w", name, err)
	}
	defer zr.Close()

	var batch []*events.Event
	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 64*1024), 2*MaxEventBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e events.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("spool file %s has a bad line: %w", name, err)
		}
		batch = append(batch, &e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read spool file %s: %w", name, err)
	}
	return batch, nil
}

// Replay feeds every spooled batch to send in chronological order. A file
// is deleted only after send returns nil. Replay stops at the first failed
// file so ordering is preserved for the next attempt.
func (s *spool) Replay(ctx context.Context, send func(ctx context.Context, batch []*events.Event) error) (files, replayed int, err error) {
	names, err := s.Files()
	if err != nil {
		return 0, 0, err
	}
	for _, name := range names {
		if ctx.Err() != nil {
			return files, replayed, ctx.Err()
		}
		batch, err := s.Read(name)
		if err != nil {
			return files, replayed, err
		}
		if err := send(ctx, batch); err != nil {
			return files, replayed, err
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return files, replayed, fmt.Errorf("failed to remove replayed spool file: %w", err)
		}
		files++
		replayed += len(batch)
	}
	return files, replayed, nil
}

// compact deletes spool files older than maxAge. Best effort.
func (s *spool) compact(maxAge time.Duration) {
	names, err := s.Files()
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-maxAge).UnixNano()
	for _, name := range names {
		nanos, ok := spoolTimestamp(name)
		if ok && nanos < cutoff {
			os.Remove(filepath.Join(s.dir, name))
		}
	}
}

func spoolTimestamp(name string) (int64, bool) {
	idx := strings.IndexByte(name, '-')
	if idx <= 0 {
		return 0, false
	}
	nanos, err := strconv.ParseInt(name[:idx], 10, 64)
	if err != nil {
		return 0, false
	}
	return nanos, true
}
