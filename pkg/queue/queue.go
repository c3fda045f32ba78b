package queue

import (
	"errors"
	"sync"
)

// BufferSize is the capacity of a single packet buffer in bytes.
const BufferSize = 128

var (
	ErrDoubleFree    = errors.New("queue: buffer already free")
	ErrForeignBuffer = errors.New("queue: buffer not from this pool")
	ErrNoSpace       = errors.New("queue: not enough room in buffer")
)

// Owner tags which component currently holds a buffer.
type Owner string

const (
	OwnerNone  Owner = ""
	OwnerLight Owner = "light"
	OwnerLink  Owner = "link"
	OwnerRx    Owner = "rx"
)

// Buffer is a fixed-size packet buffer. Headers are prepended with Reserve,
// so the live bytes always sit at the end of the backing array.
type Buffer struct {
	Owner   Owner
	Creator Owner

	pool  *Pool
	idx   int
	inUse bool
	off   int
	data  [BufferSize]byte
}

// Bytes returns the live bytes of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data[b.off:]
}

// Len returns the number of live bytes.
func (b *Buffer) Len() int {
	return BufferSize - b.off
}

// Reserve grows the buffer by n bytes at the front and returns them.
func (b *Buffer) Reserve(n int) ([]byte, error) {
	if n < 0 || n > b.off {
		return nil, ErrNoSpace
	}
	b.off -= n
	return b.data[b.off : b.off+n], nil
}

// Fill replaces the contents with p.
func (b *Buffer) Fill(p []byte) error {
	if len(p) > BufferSize {
		return ErrNoSpace
	}
	b.off = BufferSize - len(p)
	copy(b.data[b.off:], p)
	return nil
}

// Pool is a fixed set of packet buffers. Get never allocates; when every
// buffer is taken it returns nil.
type Pool struct {
	mu    sync.Mutex
	slots []Buffer
	free  []int
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		slots: make([]Buffer, size),
		free:  make([]int, 0, size),
	}
	for i := size - 1; i >= 0; i-- {
		p.slots[i].pool = p
		p.slots[i].idx = i
		p.free = append(p.free, i)
	}
	return p
}

// Get hands out an empty buffer owned and created by owner, or nil if the
// pool is exhausted.
func (p *Pool) Get(owner Owner) *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return nil
	}
	i := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	b := &p.slots[i]
	b.inUse = true
	b.Owner = owner
	b.Creator = owner
	b.off = BufferSize
	return b
}

// Free returns b to the pool.
func (p *Pool) Free(b *Buffer) error {
	if b == nil || b.pool != p {
		return ErrForeignBuffer
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !b.inUse {
		return ErrDoubleFree
	}
	b.inUse = false
	b.Owner = OwnerNone
	b.Creator = OwnerNone
	b.off = BufferSize
	p.free = append(p.free, b.idx)
	return nil
}

func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots) - len(p.free)
}

func (p *Pool) Cap() int {
	return len(p.slots)
}
