package disk

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

const (
	BLOCK_SIZE             = 1024
	DEFAULT_BLOCK_CAPACITY = 64
)

var ErrNoDevice = errors.New("no such device")

func NewManager(blockSize int) *Manager {
	return &Manager{
		blockSize: blockSize,
		devices:   map[uint32]*device{},
	}
}

// Attach backs device dev with file. The file is grown to hold at least
// DEFAULT_BLOCK_CAPACITY blocks.
func (dm *Manager) Attach(dev uint32, file *os.File) error {
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("error attaching device %d: %w", dev, err)
	}

	capacity := int(info.Size() / int64(dm.blockSize))
	if capacity < DEFAULT_BLOCK_CAPACITY {
		capacity = DEFAULT_BLOCK_CAPACITY
		if err := file.Truncate(int64(capacity * dm.blockSize)); err != nil {
			return fmt.Errorf("error sizing device %d: %w", dev, err)
		}
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.devices[dev] = &device{file: file, blockCapacity: capacity}

	return nil
}

func (dm *Manager) writeBlock(dev, blockno uint32, data []byte) error {
	if len(data) != dm.blockSize {
		return fmt.Errorf("error writing block %d: got %d bytes, want %d", blockno, len(data), dm.blockSize)
	}

	d, err := dm.device(dev)
	if err != nil {
		return err
	}

	if err := dm.ensureCapacity(d, blockno); err != nil {
		return err
	}

	offset := dm.offset(blockno)
	if _, err := d.file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("error writing at offset %d: %w", offset, err)
	}

	return nil
}

// readBlock returns the contents of blockno. Blocks that were never written
// read as zeros.
func (dm *Manager) readBlock(dev, blockno uint32) ([]byte, error) {
	d, err := dm.device(dev)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, dm.blockSize)

	dm.mu.Lock()
	inRange := int(blockno) < d.blockCapacity
	dm.mu.Unlock()
	if !inRange {
		return buf, nil
	}

	offset := dm.offset(blockno)
	if _, err := d.file.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("error reading from offset %d: %w", offset, err)
	}

	return buf, nil
}

func (dm *Manager) ensureCapacity(d *device, blockno uint32) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if int(blockno) < d.blockCapacity {
		return nil
	}

	capacity := d.blockCapacity
	for int(blockno) >= capacity {
		capacity *= 2
	}

	if err := d.file.Truncate(int64(capacity * dm.blockSize)); err != nil {
		return fmt.Errorf("error resizing device file: %w", err)
	}
	d.blockCapacity = capacity

	return nil
}

func (dm *Manager) device(dev uint32) (*device, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	d, ok := dm.devices[dev]
	if !ok {
		return nil, fmt.Errorf("device %d: %w", dev, ErrNoDevice)
	}

	return d, nil
}

func (dm *Manager) offset(blockno uint32) int64 {
	return int64(blockno) * int64(dm.blockSize)
}

type device struct {
	file          *os.File
	blockCapacity int
}

type Manager struct {
	mu        sync.Mutex
	blockSize int
	devices   map[uint32]*device
}
