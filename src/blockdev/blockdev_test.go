package blockdev

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemDeviceReadWriteRoundTrip(t *testing.T) {
	d := NewMemDevice(4)
	assert.Equal(t, 4, d.Size())

	want := bytes.Repeat([]byte{0x5A}, SectorSize)
	d.WriteSector(2, want)

	got := make([]byte, SectorSize)
	d.ReadSector(2, got)
	assert.Equal(t, want, got)

	// Other sectors remain untouched (zero).
	other := make([]byte, SectorSize)
	d.ReadSector(0, other)
	assert.Equal(t, make([]byte, SectorSize), other)
}

func TestFileDeviceRoundTrip(t *testing.T) {
	dev, err := OpenFileDevice(t.TempDir()+"/swap.img", 4)
	require.NoError(t, err)
	defer dev.Close()

	want := bytes.Repeat([]byte{0x7E}, SectorSize)
	dev.WriteSector(1, want)

	got := make([]byte, SectorSize)
	dev.ReadSector(1, got)
	assert.Equal(t, want, got)
}

func TestFileDeviceSectorSizeMismatchPanics(t *testing.T) {
	dev, err := OpenFileDevice(t.TempDir()+"/swap2.img", 1)
	require.NoError(t, err)
	defer dev.Close()

	assert.Panics(t, func() { dev.WriteSector(0, make([]byte, SectorSize-1)) })
}
