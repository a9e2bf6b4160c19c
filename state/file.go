package state

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/moby/sys/atomicwriter"
	"golang.org/x/sys/unix"
)

// FileStore persists the state as a JSON document on the local filesystem.
type FileStore struct {
	Path string
	Perm os.FileMode

	mutex sync.Mutex
	lock  *os.File
}

var _ Store = (*FileStore)(nil)

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path, Perm: 0o600}
}

// DefaultPath is the state file used when none is configured.
func DefaultPath(provisioner, site string) string {
	return fmt.Sprintf(".%ssite_%s.json", provisioner, site)
}

func (f *FileStore) Location() string {
	return f.Path
}

func (f *FileStore) lockPath() string {
	return f.Path + ".lock"
}

// Lock takes an exclusive flock on <path>.lock, which the kernel drops when
// the process dies. Fails with ErrLocked while another process holds it.
func (f *FileStore) Lock() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.lock != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	file, err := os.OpenFile(f.lockPath(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open lock file '%s': %w", f.lockPath(), err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		owner, _ := os.ReadFile(f.lockPath())
		_ = file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("%w: '%s' is held by pid %s", ErrLocked, f.lockPath(), bytes.TrimSpace(owner))
		}
		return fmt.Errorf("failed to lock '%s': %w", f.lockPath(), err)
	}

	// The pid is informative only, the flock is what excludes
	if err := file.Truncate(0); err == nil {
		_, _ = fmt.Fprintf(file, "%d\n", os.Getpid())
	}

	f.lock = file
	return nil
}

// Unlock releases the lock. The lock file stays in place.
func (f *FileStore) Unlock() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.lock == nil {
		return nil
	}

	err := unix.Flock(int(f.lock.Fd()), unix.LOCK_UN)
	err = errors.Join(err, f.lock.Close())
	f.lock = nil
	if err != nil {
		return fmt.Errorf("failed to unlock '%s': %w", f.lockPath(), err)
	}
	return nil
}

func (f *FileStore) Load() (*ProviderState, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: no state file at '%s'", ErrNotFound, f.Path)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read state file '%s': %w", f.Path, err)
	}

	return decode(f.Path, data)
}

// Save replaces the state file atomically: the data goes to a temporary file in
// the same directory, which is synced and renamed over the previous version.
// A crash at any point leaves either the old or the new file in place.
func (f *FileStore) Save(s *ProviderState) error {
	data, err := encode(s)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	perm := f.Perm
	if perm == 0 {
		perm = 0o600
	}
	if err := atomicwriter.WriteFile(f.Path, data, perm); err != nil {
		return fmt.Errorf("failed to write state file '%s': %w", f.Path, err)
	}
	return nil
}
