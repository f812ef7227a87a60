package buffer

import (
	"os"
	"path"
	"testing"

	"github.com/NebulousLabs/fastrand"
	"github.com/jobala/kcore/storage/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheOnDisk(t *testing.T) {
	t.Run("blocks written through the cache survive eviction", func(t *testing.T) {
		ds := createScheduler(t)
		cache := NewCache(ds, WithBuffers(2), WithBuckets(1), WithBlockSize(disk.BLOCK_SIZE))

		content := map[uint32][]byte{}
		for blk := range uint32(6) {
			b, err := cache.Read(1, blk)
			require.NoError(t, err)

			content[blk] = fastrand.Bytes(disk.BLOCK_SIZE)
			copy(b.Data(), content[blk])
			require.NoError(t, cache.Write(b))
			cache.Release(b)
		}
		assert.Equal(t, int64(4), cache.Stats().Evictions)

		for blk, data := range content {
			b, err := cache.Read(1, blk)
			require.NoError(t, err)
			assert.Equal(t, data, b.Data())
			cache.Release(b)
		}
	})
}

func createScheduler(t *testing.T) *disk.Scheduler {
	t.Helper()

	file, err := os.OpenFile(path.Join(t.TempDir(), "fs.img"), os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = file.Close()
	})

	dm := disk.NewManager(disk.BLOCK_SIZE)
	require.NoError(t, dm.Attach(1, file))

	ds := disk.NewScheduler(dm)
	t.Cleanup(ds.Close)
	return ds
}
