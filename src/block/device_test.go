package block

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryReadWriteRoundTrip(t *testing.T) {
	m := NewMemory(4)
	ctx := context.Background()

	buf := make([]byte, SectorSize)
	for i := range buf {
		buf[i] = 0x42
	}
	require.NoError(t, m.WriteSector(ctx, 2, buf))

	out := make([]byte, SectorSize)
	require.NoError(t, m.ReadSector(ctx, 2, out))
	assert.Equal(t, buf, out)
	assert.Equal(t, uint32(4), m.SectorCount())
}

func TestMemoryRejectsOutOfRangeSector(t *testing.T) {
	m := NewMemory(1)
	ctx := context.Background()
	buf := make([]byte, SectorSize)
	assert.Error(t, m.ReadSector(ctx, 5, buf))
	assert.Error(t, m.WriteSector(ctx, 5, buf))
}

func TestMemoryRejectsWrongBufferSize(t *testing.T) {
	m := NewMemory(1)
	ctx := context.Background()
	assert.Error(t, m.ReadSector(ctx, 0, make([]byte, SectorSize-1)))
	assert.Error(t, m.WriteSector(ctx, 0, make([]byte, SectorSize+1)))
}

func TestFileDeviceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swap.img")
	dev, err := OpenFile(path, 4)
	require.NoError(t, err)
	defer dev.Close()

	ctx := context.Background()
	buf := make([]byte, SectorSize)
	for i := range buf {
		buf[i] = 0x99
	}
	require.NoError(t, dev.WriteSector(ctx, 1, buf))

	out := make([]byte, SectorSize)
	require.NoError(t, dev.ReadSector(ctx, 1, out))
	assert.Equal(t, buf, out)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4*SectorSize), info.Size())
}
