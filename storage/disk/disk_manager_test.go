package disk

import (
	"errors"
	"fmt"
	"os"
	"path"
	"testing"

	"github.com/NebulousLabs/fastrand"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskManager(t *testing.T) {
	t.Run("attach sizes the device file", func(t *testing.T) {
		file := CreateDiskFile(t)

		dm := NewManager(BLOCK_SIZE)
		require.NoError(t, dm.Attach(1, file))

		fileInfo, err := os.Stat(file.Name())
		assert.NoError(t, err)
		assert.Equal(t, int64(DEFAULT_BLOCK_CAPACITY*BLOCK_SIZE), fileInfo.Size())
	})

	t.Run("test reading and writing a block", func(t *testing.T) {
		dm := NewManager(BLOCK_SIZE)
		require.NoError(t, dm.Attach(1, CreateDiskFile(t)))

		buf := fastrand.Bytes(BLOCK_SIZE)
		err := dm.writeBlock(1, 3, buf)
		assert.NoError(t, err)

		res, err := dm.readBlock(1, 3)
		assert.NoError(t, err)
		assert.Equal(t, buf, res)
	})

	t.Run("unwritten blocks read as zeros", func(t *testing.T) {
		dm := NewManager(BLOCK_SIZE)
		require.NoError(t, dm.Attach(1, CreateDiskFile(t)))

		res, err := dm.readBlock(1, 5000)
		assert.NoError(t, err)
		assert.Equal(t, make([]byte, BLOCK_SIZE), res)
	})

	t.Run("test device file gets resized when full", func(t *testing.T) {
		file := CreateDiskFile(t)
		dm := NewManager(BLOCK_SIZE)
		require.NoError(t, dm.Attach(1, file))

		err := dm.writeBlock(1, DEFAULT_BLOCK_CAPACITY, make([]byte, BLOCK_SIZE))
		assert.NoError(t, err)

		fileInfo, err := os.Stat(file.Name())
		assert.NoError(t, err)
		assert.Equal(t, int64(2*DEFAULT_BLOCK_CAPACITY*BLOCK_SIZE), fileInfo.Size())
	})

	t.Run("devices are independent", func(t *testing.T) {
		dm := NewManager(BLOCK_SIZE)
		require.NoError(t, dm.Attach(1, CreateDiskFile(t)))
		require.NoError(t, dm.Attach(2, CreateDiskFile(t)))

		one := fastrand.Bytes(BLOCK_SIZE)
		two := fastrand.Bytes(BLOCK_SIZE)
		require.NoError(t, dm.writeBlock(1, 0, one))
		require.NoError(t, dm.writeBlock(2, 0, two))

		res, err := dm.readBlock(1, 0)
		assert.NoError(t, err)
		assert.Equal(t, one, res)
	})

	t.Run("unknown device is an error", func(t *testing.T) {
		dm := NewManager(BLOCK_SIZE)

		_, err := dm.readBlock(9, 0)
		assert.True(t, errors.Is(err, ErrNoDevice))
	})

	t.Run("short writes are rejected", func(t *testing.T) {
		dm := NewManager(BLOCK_SIZE)
		require.NoError(t, dm.Attach(1, CreateDiskFile(t)))

		assert.Error(t, dm.writeBlock(1, 0, []byte("short")))
	})
}

func CreateDiskFile(t *testing.T) *os.File {
	t.Helper()
	diskFile := path.Join(t.TempDir(), "fs.img")

	file, err := os.OpenFile(diskFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		panic(fmt.Sprintf("failed creating disk file\n%v", err))
	}
	t.Cleanup(func() {
		_ = file.Close()
	})

	return file
}
