package session

// history is the append-only transcript of everything the owner has published.
// With a positive limit the oldest bytes are discarded once the buffer grows
// past it. Callers hold the session lock.
type history struct {
	buf   []byte
	limit int
	total int64
}

func (h *history) append(p []byte) {
	h.total += int64(len(p))
	h.buf = append(h.buf, p...)
	if h.limit > 0 && len(h.buf) > h.limit {
		drop := len(h.buf) - h.limit
		h.buf = append(h.buf[:0], h.buf[drop:]...)
	}
}

func (h *history) snapshot() []byte {
	if len(h.buf) == 0 {
		return nil
	}
	out := make([]byte, len(h.buf))
	copy(out, h.buf)
	return out
}

func (h *history) len() int {
	return len(h.buf)
}
