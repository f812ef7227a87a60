package buffer

// victim returns the unreferenced buffer that has been idle the longest,
// preferring the lowest slot on equal timestamps. The caller holds every
// bucket lock.
func victim(bufs []*buf) (*buf, bool) {
	var best *buf

	for _, b := range bufs {
		if b.refcnt != 0 {
			continue
		}
		if best == nil || b.timestamp < best.timestamp {
			best = b
		}
	}

	return best, best != nil
}
