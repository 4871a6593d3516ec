// ABOUTME: Fixed-capacity ring buffer used by the backpressure stage
// ABOUTME: Overflow evicts the oldest element so memory stays bounded

package stream

// ring is a fixed-capacity circular buffer of tokens. Not safe for
// concurrent use; the backpressure goroutine owns it exclusively.
type ring struct {
	buf  []Token
	head int
	n    int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Token, capacity)}
}

func (r *ring) full() bool  { return r.n == len(r.buf) }
func (r *ring) empty() bool { return r.n == 0 }

// push appends a token. The caller must pop first when the ring is full.
func (r *ring) push(t Token) {
	r.buf[(r.head+r.n)%len(r.buf)] = t
	r.n++
}

// peek returns the oldest token without removing it.
func (r *ring) peek() Token {
	return r.buf[r.head]
}

// pop removes and returns the oldest token.
func (r *ring) pop() Token {
	t := r.buf[r.head]
	r.buf[r.head] = Token{} // release the string
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return t
}
