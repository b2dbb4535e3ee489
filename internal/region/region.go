// Package region implements HORUS's named, host-scoped shared-memory areas
// (§4.1 of the design: Region). A Region is a fixed-size byte buffer backed
// by a file under the shared-memory namespace (see common/go/shmroot),
// mapped with MAP_SHARED so any number of cooperating processes observe the
// same bytes. Region itself carries no protocol: the Ring built on top of it
// (package ring) owns the header/slot layout and the lock-free publish and
// consume protocol.
package region

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	"golang.org/x/sys/unix"

	"github.com/horus-robotics/horus/common/go/shmroot"
)

// mapping is the process-wide shared state behind a Region key: the mmap'd
// bytes and the file descriptor keeping it alive. Multiple Handles in the
// same process opening the same key share one mapping (Design Notes:
// "shared ownership of Rings between producer and consumer within one
// process").
type mapping struct {
	path string
	size int64
	data []byte
	file *os.File
	refs int
}

var (
	registryMu sync.Mutex
	registry   = map[string]*mapping{}
)

// Handle is a process-local reference to a Region. Its zero value is not
// usable; construct one with OpenOrCreate.
type Handle struct {
	key     string
	mapping *mapping
	closed  bool
}

// OpenOrCreate returns a handle to the region identified by key under
// namespace ("topics" or "heartbeats" in practice, though Region itself is
// namespace-agnostic). If no region with this key exists, it is created,
// sized exactly to size, and zero-initialized. If one exists with a
// different size, OpenOrCreate fails with SizeMismatchError.
//
// Creation is safe under concurrent attempts from independent processes:
// exactly one creator wins the O_CREAT|O_EXCL race; every other opener
// blocks on an flock until the winner has finished sizing the file, then
// opens the winner's region.
func OpenOrCreate(namespace, key string, size datasize.ByteSize) (*Handle, error) {
	path, err := shmroot.PathFor(namespace, key)
	if err != nil {
		var inv shmroot.InvalidNameError
		if errors.As(err, &inv) {
			return nil, InvalidNameError{Key: inv.Key, Reason: inv.Reason}
		}
		return nil, err
	}

	wanted := int64(size)

	registryMu.Lock()
	defer registryMu.Unlock()

	if m, ok := registry[path]; ok {
		if m.size != wanted {
			return nil, SizeMismatchError{Key: key, Existing: m.size, Wanted: wanted}
		}
		m.refs++
		return &Handle{key: key, mapping: m}, nil
	}

	if _, err := shmroot.EnsureNamespaceDir(namespace); err != nil {
		return nil, PermissionDeniedError{Key: key, Err: err}
	}

	m, err := openOrCreateFile(key, path, wanted)
	if err != nil {
		return nil, err
	}

	data, err := unix.Mmap(int(m.file.Fd()), 0, int(wanted), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		m.file.Close()
		return nil, PermissionDeniedError{Key: key, Err: err}
	}
	m.data = data
	m.refs = 1

	registry[path] = m

	return &Handle{key: key, mapping: m}, nil
}

// openOrCreateFile resolves the create-vs-open race: the process that wins
// O_CREAT|O_EXCL takes an exclusive flock while it sizes the file; every
// other opener takes a shared flock, which blocks until the creator
// releases it. An opener whose shared lock is granted before the creator
// has taken the exclusive one finds a zero-sized file; it releases the lock
// and retries until the file is sized.
func openOrCreateFile(key, path string, wanted int64) (*mapping, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	switch {
	case err == nil:
		if flockErr := unix.Flock(int(f.Fd()), unix.LOCK_EX); flockErr != nil {
			f.Close()
			return nil, PermissionDeniedError{Key: key, Err: flockErr}
		}
		if truncErr := f.Truncate(wanted); truncErr != nil {
			unix.Flock(int(f.Fd()), unix.LOCK_UN)
			f.Close()
			os.Remove(path)
			if errors.Is(truncErr, unix.ENOSPC) {
				return nil, OutOfSpaceError{Key: key, Err: truncErr}
			}
			return nil, fmt.Errorf("size region %s: %w", path, truncErr)
		}
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		return &mapping{path: path, size: wanted, file: f}, nil

	case errors.Is(err, os.ErrExist):
		f, err = os.OpenFile(path, os.O_RDWR, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrPermission) {
				return nil, PermissionDeniedError{Key: key, Err: err}
			}
			return nil, fmt.Errorf("open existing region %s: %w", path, err)
		}
		// A zero size means the creator has not taken its exclusive lock
		// yet; look again until it has sized the file.
		var st os.FileInfo
		var statErr error
		for attempt := 0; ; attempt++ {
			if flockErr := unix.Flock(int(f.Fd()), unix.LOCK_SH); flockErr != nil {
				f.Close()
				return nil, PermissionDeniedError{Key: key, Err: flockErr}
			}
			st, statErr = f.Stat()
			unix.Flock(int(f.Fd()), unix.LOCK_UN)
			if statErr != nil || st.Size() != 0 || attempt >= 1000 {
				break
			}
			time.Sleep(time.Millisecond)
		}
		if statErr != nil {
			f.Close()
			return nil, fmt.Errorf("stat region %s: %w", path, statErr)
		}
		if st.Size() != wanted {
			f.Close()
			return nil, SizeMismatchError{Key: key, Existing: st.Size(), Wanted: wanted}
		}
		return &mapping{path: path, size: wanted, file: f}, nil

	case errors.Is(err, os.ErrPermission):
		return nil, PermissionDeniedError{Key: key, Err: err}

	default:
		return nil, fmt.Errorf("create region %s: %w", path, err)
	}
}

// BasePtr returns the region's backing bytes. The returned slice is stable
// for the handle's lifetime; it is invalid after Close.
func (m *Handle) BasePtr() []byte {
	return m.mapping.data
}

// Len returns the region's fixed size in bytes.
func (m *Handle) Len() int {
	return len(m.mapping.data)
}

// Key returns the region's namespace key.
func (m *Handle) Key() string {
	return m.key
}

// Close unmaps this handle's reference from the current process. It does
// not unlink the underlying region; unlinking is an explicit operator
// action (see Unlink).
func (m *Handle) Close() error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	m.mapping.refs--
	if m.mapping.refs > 0 {
		return nil
	}

	delete(registry, m.mapping.path)

	err := unix.Munmap(m.mapping.data)
	if closeErr := m.mapping.file.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Unlink removes the backing file for a region key, making way for a fresh
// region on next OpenOrCreate. This is the explicit operator action the
// design calls out; the core never calls it automatically.
func Unlink(namespace, key string) error {
	path, err := shmroot.PathFor(namespace, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlink region %s: %w", path, err)
	}
	return nil
}
