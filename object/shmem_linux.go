package object

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CreateSharedMemory allocates an anonymous memory-backed region of size
// bytes and returns a handle that owns it. The region can be sent and
// mapped on either side with Map.
func CreateSharedMemory(name string, size int) (*Handle, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("object: memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("object: ftruncate: %w", err)
	}
	return adopt(KindSharedMemory, fd, DispositionMove), nil
}

// Map maps the whole region read-write and shared. Unmap the result with
// Unmap.
func (h *Handle) Map() ([]byte, error) {
	if h.kind != KindSharedMemory {
		return nil, fmt.Errorf("%w: map of %s", ErrTypeMismatch, h.kind)
	}
	fd := h.FD()
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("object: fstat: %w", err)
	}
	if st.Size == 0 {
		return nil, nil
	}
	b, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("object: mmap: %w", err)
	}
	return b, nil
}

// Unmap releases a mapping returned by Map.
func Unmap(b []byte) error {
	if b == nil {
		return nil
	}
	return unix.Munmap(b)
}
