package lifecycle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rcliao/memory-mcp/internal/memerr"
)

// Lock is a per-project lock file ensuring one serving process per project.
type Lock struct {
	path string
	pid  int
}

// LockPath returns <stateDir>/<sha256(root)[:16]>/backend.lock.
func LockPath(stateDir, root string) string {
	sum := sha256.Sum256([]byte(root))
	return filepath.Join(stateDir, hex.EncodeToString(sum[:])[:16], "backend.lock")
}

// freshLockGrace is how long an unreadable lock file is treated as held.
const freshLockGrace = 5 * time.Second

// AcquireLock creates the lock file for root. The file is written under a
// temporary name and linked into place, so it never appears without its
// pid. A lock left by a dead process, or an unreadable one older than
// freshLockGrace, is reclaimed; a live holder yields memerr.ErrLocked.
func AcquireLock(stateDir, root string) (*Lock, error) {
	path := LockPath(stateDir, root)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	pid := os.Getpid()

	tmp, err := writeTempLock(dir, pid, root)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp)

	for range 3 {
		err := os.Link(tmp, path)
		if err == nil {
			return &Lock{path: path, pid: pid}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		seen, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read lock file: %w", err)
		}
		holder, ok := parseHolder(seen)
		switch {
		case ok && processAlive(holder):
			return nil, fmt.Errorf("%w (pid %d, lock %s)", memerr.ErrLocked, holder, path)
		case !ok && recentlyModified(path):
			return nil, fmt.Errorf("%w (lock %s is being written)", memerr.ErrLocked, path)
		}
		if err := removeIfUnchanged(path, seen); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w (lock %s keeps reappearing)", memerr.ErrLocked, path)
}

func writeTempLock(dir string, pid int, root string) (string, error) {
	f, err := os.CreateTemp(dir, "backend.lock.*")
	if err != nil {
		return "", fmt.Errorf("create lock file: %w", err)
	}
	_, werr := fmt.Fprintf(f, "%d\n%s\n", pid, root)
	if err := errors.Join(werr, f.Sync(), f.Close()); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write lock file: %w", err)
	}
	return f.Name(), nil
}

// removeIfUnchanged deletes a stale lock unless another process replaced it
// since it was read.
func removeIfUnchanged(path string, seen []byte) error {
	now, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read lock file: %w", err)
	}
	if !bytes.Equal(now, seen) {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale lock: %w", err)
	}
	return nil
}

func recentlyModified(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && time.Since(fi.ModTime()) < freshLockGrace
}

// Release removes the lock file if this process still owns it.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if holder, ok := readHolder(l.path); ok && holder != l.pid {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

func readHolder(path string) (int, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	return parseHolder(b)
}

func parseHolder(b []byte) (int, bool) {
	first, _, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
