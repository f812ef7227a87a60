package main

import (
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"testing"

	"github.com/jobala/kcore/config"
	"github.com/jobala/kcore/storage/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	t.Run("concurrent workload keeps every update and page", func(t *testing.T) {
		cfg := config.Default()
		cfg.NCPU = 4
		cfg.MemoryPages = 32
		cfg.NBuf = 8
		cfg.NBucket = 3
		cfg.Disks = map[uint32]string{ROOTDEV: path.Join(t.TempDir(), "fs.img")}

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		assert.NoError(t, run(cfg, 200, 16, 16, logger))
	})

	t.Run("blocks that were never written decode as empty", func(t *testing.T) {
		empty, err := decode(make([]byte, 1024))
		require.NoError(t, err)
		assert.Equal(t, record{}, empty)
	})
}

func TestAttachDisks(t *testing.T) {
	t.Run("detach removes the scratch image", func(t *testing.T) {
		t.Setenv("TMPDIR", t.TempDir())

		cfg := config.Default()
		detach, err := attachDisks(disk.NewManager(cfg.BlockSize), cfg)
		require.NoError(t, err)

		scratch, err := filepath.Glob(filepath.Join(os.TempDir(), "kcoresim*"))
		require.NoError(t, err)
		assert.Len(t, scratch, 1)

		detach()

		scratch, err = filepath.Glob(filepath.Join(os.TempDir(), "kcoresim*"))
		require.NoError(t, err)
		assert.Empty(t, scratch)
	})

	t.Run("detach closes configured images and keeps them", func(t *testing.T) {
		name := path.Join(t.TempDir(), "fs.img")
		cfg := config.Default()
		cfg.Disks = map[uint32]string{ROOTDEV: name}

		dm := disk.NewManager(cfg.BlockSize)
		detach, err := attachDisks(dm, cfg)
		require.NoError(t, err)
		detach()

		ds := disk.NewScheduler(dm)
		defer ds.Close()

		assert.FileExists(t, name)
		assert.Error(t, ds.Transfer(ROOTDEV, 0, make([]byte, cfg.BlockSize), true))
	})

	t.Run("a disk that cannot be opened is an error", func(t *testing.T) {
		cfg := config.Default()
		cfg.Disks = map[uint32]string{ROOTDEV: path.Join(t.TempDir(), "missing", "fs.img")}

		_, err := attachDisks(disk.NewManager(cfg.BlockSize), cfg)
		assert.Error(t, err)
	})
}
