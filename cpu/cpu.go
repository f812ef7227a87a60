package cpu

import "github.com/jobala/kcore/util"

const NCPU = 8

func NewMachine(ncpu int) *Machine {
	cpus := make([]*CPU, ncpu)
	for i := range ncpu {
		cpus[i] = &CPU{id: i, intr: true}
	}

	return &Machine{cpus: cpus}
}

func (m *Machine) CPU(id int) *CPU {
	return m.cpus[id]
}

func (m *Machine) NCPU() int {
	return len(m.cpus)
}

func (c *CPU) ID() int {
	return c.id
}

// PushOff disables interrupts on c. Calls nest: it takes as many PopOff calls
// to undo as there were PushOff calls, and the interrupt state seen before the
// outermost PushOff is restored by the matching PopOff.
func (c *CPU) PushOff() {
	old := c.intr
	c.intr = false
	if c.noff == 0 {
		c.intena = old
	}
	c.noff++
}

func (c *CPU) PopOff() {
	if c.intr {
		util.Invariant("pop_off: interruptible on cpu %d", c.id)
	}
	if c.noff < 1 {
		util.Invariant("pop_off: unbalanced on cpu %d", c.id)
	}

	c.noff--
	if c.noff == 0 && c.intena {
		c.intr = true
	}
}

func (c *CPU) IntrOn() {
	c.intr = true
}

func (c *CPU) IntrOff() {
	c.intr = false
}

func (c *CPU) IntrEnabled() bool {
	return c.intr
}

func (c *CPU) Depth() int {
	return c.noff
}

// Machine is a fixed set of cores. A CPU must only be driven by one goroutine
// at a time, the way a hart only runs one thread.
type Machine struct {
	cpus []*CPU
}

type CPU struct {
	id     int
	noff   int
	intena bool
	intr   bool
}
