package kalloc

import "github.com/jobala/kcore/util"

// PA is a physical address.
type PA uint64

const KERNBASE PA = 0x80000000

// NewMemory returns size bytes of simulated physical memory starting at base.
func NewMemory(base PA, size int) *Memory {
	return &Memory{
		base: base,
		data: make([]byte, size),
	}
}

func (m *Memory) Base() PA {
	return m.base
}

func (m *Memory) End() PA {
	return m.base + PA(len(m.data))
}

func (m *Memory) slice(pa PA, n int) []byte {
	if pa < m.base || pa+PA(n) > m.End() {
		util.Invariant("memory: [%#x, %#x) outside physical memory", uint64(pa), uint64(pa)+uint64(n))
	}

	off := int(pa - m.base)
	return m.data[off : off+n : off+n]
}

func PGROUNDUP(a PA, pageSize int) PA {
	sz := PA(pageSize)
	return (a + sz - 1) &^ (sz - 1)
}

func PGROUNDDOWN(a PA, pageSize int) PA {
	return a &^ (PA(pageSize) - 1)
}

type Memory struct {
	base PA
	data []byte
}
