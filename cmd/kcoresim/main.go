// kcoresim boots the page allocator and the buffer cache and drives them from
// one goroutine per simulated core.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sync"

	"github.com/NebulousLabs/fastrand"
	"github.com/jobala/kcore/buffer"
	"github.com/jobala/kcore/config"
	"github.com/jobala/kcore/cpu"
	"github.com/jobala/kcore/kalloc"
	"github.com/jobala/kcore/storage/disk"
	"github.com/jobala/kcore/util"
)

const ROOTDEV = 1

// record is what the workload keeps in each block.
type record struct {
	Updates uint64
	LastCPU int
	Scratch uint64
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	iterations := flag.Int("iterations", 1000, "operations per core")
	blocks := flag.Int("blocks", 64, "number of distinct blocks touched")
	hold := flag.Int("hold", 32, "most pages a core holds at once")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			logger.Error("failed loading config", "err", err)
			os.Exit(1)
		}
	}

	if err := run(cfg, *iterations, *blocks, *hold, logger); err != nil {
		logger.Error("simulation failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, iterations, blocks, hold int, logger *slog.Logger) error {
	machine := cpu.NewMachine(cfg.NCPU)

	mem := kalloc.NewMemory(kalloc.KERNBASE, cfg.MemoryPages*cfg.PageSize)
	kmem := kalloc.New(mem, cfg.NCPU, kalloc.WithPageSize(cfg.PageSize), kalloc.WithLogger(logger))
	kmem.Init(mem.Base(), mem.End())

	dm := disk.NewManager(cfg.BlockSize)
	detach, err := attachDisks(dm, cfg)
	if err != nil {
		return err
	}
	defer detach()
	ds := disk.NewScheduler(dm, disk.WithLogger(logger))
	defer ds.Close()

	bcache := buffer.NewCache(ds,
		buffer.WithBuffers(cfg.NBuf),
		buffer.WithBuckets(cfg.NBucket),
		buffer.WithBlockSize(cfg.BlockSize),
		buffer.WithLogger(logger),
	)

	errs := make(chan error, cfg.NCPU)
	var wg sync.WaitGroup
	for i := range cfg.NCPU {
		wg.Add(1)
		go func(c *cpu.CPU) {
			defer wg.Done()
			if err := work(c, kmem, bcache, iterations, blocks, hold); err != nil {
				errs <- fmt.Errorf("cpu %d: %w", c.ID(), err)
			}
		}(machine.CPU(i))
	}
	wg.Wait()
	close(errs)

	if err, ok := <-errs; ok {
		return err
	}

	total, err := countUpdates(bcache, blocks)
	if err != nil {
		return err
	}

	want := uint64(cfg.NCPU * iterations)
	kst, bst := kmem.Stats(), bcache.Stats()
	logger.Info("done",
		"updates", total,
		"free_pages", kst.Free(),
		"reclaims", kst.Reclaims,
		"alloc_failures", kst.Exhausted,
		"hits", bst.Hits,
		"misses", bst.Misses,
		"evictions", bst.Evictions,
	)

	if total != want {
		return fmt.Errorf("lost updates: counted %d, want %d", total, want)
	}
	if kst.Allocated != 0 {
		return fmt.Errorf("leaked %d pages", kst.Allocated)
	}

	return nil
}

func work(c *cpu.CPU, kmem *kalloc.Allocator, bcache *buffer.Cache, iterations, blocks, hold int) error {
	held := []kalloc.PA{}
	defer func() {
		for _, pa := range held {
			kmem.Free(c, pa)
		}
	}()

	for range iterations {
		// churn pages so that cores run dry and reclaim from each other
		if len(held) < hold && fastrand.Intn(3) > 0 {
			if pa, ok := kmem.Alloc(c); ok {
				held = append(held, pa)
			}
		} else if len(held) > 0 {
			i := fastrand.Intn(len(held))
			kmem.Free(c, held[i])
			held = append(held[:i], held[i+1:]...)
		}

		if err := update(c, bcache, uint32(fastrand.Intn(blocks))); err != nil {
			return err
		}
	}

	return nil
}

func update(c *cpu.CPU, bcache *buffer.Cache, blockno uint32) error {
	b, err := bcache.Read(ROOTDEV, blockno)
	if err != nil {
		return err
	}
	defer bcache.Release(b)

	rec, err := decode(b.Data())
	if err != nil {
		return err
	}
	rec.Updates++
	rec.LastCPU = c.ID()
	rec.Scratch = fastrand.Uint64n(1 << 32)

	data, err := util.ToBlock(rec, len(b.Data()))
	if err != nil {
		return err
	}
	copy(b.Data(), data)

	return bcache.Write(b)
}

func countUpdates(bcache *buffer.Cache, blocks int) (uint64, error) {
	total := uint64(0)
	for blockno := range uint32(blocks) {
		b, err := bcache.Read(ROOTDEV, blockno)
		if err != nil {
			return 0, err
		}

		rec, err := decode(b.Data())
		bcache.Release(b)
		if err != nil {
			return 0, err
		}
		total += rec.Updates
	}

	return total, nil
}

// decode reads a record, treating a block that was never written as empty.
func decode(data []byte) (record, error) {
	if data[0] == 0 {
		return record{}, nil
	}

	return util.FromBlock[record](data)
}

// attachDisks opens every configured disk image, or a scratch image when none
// is configured. The returned func closes the images and removes the scratch
// directory; it must run after the scheduler has stopped.
func attachDisks(dm *disk.Manager, cfg config.Config) (func(), error) {
	files := []*os.File{}
	scratch := ""
	detach := func() {
		for _, file := range files {
			file.Close()
		}
		if scratch != "" {
			os.RemoveAll(scratch)
		}
	}

	disks := cfg.Disks
	if len(disks) == 0 {
		dir, err := os.MkdirTemp("", "kcoresim")
		if err != nil {
			return nil, err
		}
		scratch = dir
		disks = map[uint32]string{ROOTDEV: path.Join(dir, "fs.img")}
	}

	for dev, name := range disks {
		file, err := os.OpenFile(name, os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			detach()
			return nil, fmt.Errorf("error opening disk %d: %w", dev, err)
		}
		files = append(files, file)

		if err := dm.Attach(dev, file); err != nil {
			detach()
			return nil, err
		}
	}

	return detach, nil
}
