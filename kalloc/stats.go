package kalloc

type Stats struct {
	PerCPU    []int
	Shared    int
	Allocated int64
	Reclaims  int64
	Exhausted int64
}

// Stats takes each free list lock in turn, so the snapshot is only exact when
// no other core is allocating or freeing.
func (k *Allocator) Stats() Stats {
	st := Stats{
		PerCPU:    make([]int, len(k.percpu)),
		Allocated: k.allocs.Value() - k.frees.Value(),
		Reclaims:  k.reclaims.Value(),
		Exhausted: k.exhausted.Value(),
	}

	for i := range k.percpu {
		l := &k.percpu[i]
		l.lock.Lock()
		st.PerCPU[i] = len(l.frames)
		l.lock.Unlock()
	}

	k.kmem.lock.Lock()
	st.Shared = len(k.kmem.frames)
	k.kmem.lock.Unlock()

	return st
}

func (s Stats) Free() int {
	n := s.Shared
	for _, c := range s.PerCPU {
		n += c
	}
	return n
}
