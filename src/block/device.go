// Package block abstracts the out-of-scope block device collaborator:
// fixed-size sector reads and writes, as consumed by the swap area.
package block

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// SectorSize is the fixed sector width the whole module assumes, matching
// the spec's 512 B sectors (8 sectors per 4096 B page).
const SectorSize = 512

// Device performs fixed-size sector I/O. Implementations must be safe for
// concurrent use; swap.Area still serialises all calls under its own mutex,
// but tests exercise Device implementations directly too.
type Device interface {
	ReadSector(ctx context.Context, sector uint32, buf []byte) error
	WriteSector(ctx context.Context, sector uint32, buf []byte) error
	SectorCount() uint32
}

// Memory is an in-memory Device, the block-device analogue of the teacher's
// MockPool: a byte arena standing in for a disk. Used by tests and the demo
// harness's swap area.
type Memory struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemory allocates a zeroed in-memory device of the given sector count.
func NewMemory(sectors uint32) *Memory {
	return &Memory{data: make([]byte, int(sectors)*SectorSize)}
}

func (m *Memory) SectorCount() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint32(len(m.data) / SectorSize)
}

func (m *Memory) ReadSector(_ context.Context, sector uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("block: read buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	off := int(sector) * SectorSize
	if off+SectorSize > len(m.data) {
		return fmt.Errorf("block: sector %d out of range", sector)
	}
	copy(buf, m.data[off:off+SectorSize])
	return nil
}

func (m *Memory) WriteSector(_ context.Context, sector uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("block: write buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	off := int(sector) * SectorSize
	if off+SectorSize > len(m.data) {
		return fmt.Errorf("block: sector %d out of range", sector)
	}
	copy(m.data[off:off+SectorSize], buf)
	return nil
}

// File is a Device backed by an *os.File, the persistent analogue of the
// teacher's DiskPool: a directory of page files becomes, here, a single
// flat file addressed by sector offset.
type File struct {
	mu      sync.Mutex
	f       *os.File
	sectors uint32
}

// OpenFile opens (creating if necessary) a swap image file of the given
// sector count at path.
func OpenFile(path string, sectors uint32) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("block: open %s: %w", path, err)
	}
	size := int64(sectors) * SectorSize
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("block: truncate %s: %w", path, err)
	}
	return &File{f: f, sectors: sectors}, nil
}

func (d *File) SectorCount() uint32 {
	return d.sectors
}

func (d *File) ReadSector(_ context.Context, sector uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("block: read buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	if sector >= d.sectors {
		return fmt.Errorf("block: sector %d out of range", sector)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.f.ReadAt(buf, int64(sector)*SectorSize)
	return err
}

func (d *File) WriteSector(_ context.Context, sector uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("block: write buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	if sector >= d.sectors {
		return fmt.Errorf("block: sector %d out of range", sector)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.f.WriteAt(buf, int64(sector)*SectorSize)
	return err
}

// Close releases the underlying file handle.
func (d *File) Close() error {
	return d.f.Close()
}
