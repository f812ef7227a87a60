package buffer

type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Value(),
		Misses:    c.misses.Value(),
		Evictions: c.evictions.Value(),
	}
}
