package hci

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrPoolExhausted  = errors.New("buffer pool exhausted")
	ErrBufferReleased = errors.New("buffer already released")
)

// Buffer holds one HCI packet without its H4 type octet. Buffers come from a
// Pool and must be released back to it exactly once.
type Buffer struct {
	Type PacketType

	b        []byte
	pool     *Pool
	fixed    bool
	mu       sync.Mutex
	released bool
}

// Bytes returns the packet contents.
func (b *Buffer) Bytes() []byte {
	return b.b
}

func (b *Buffer) Len() int {
	return len(b.b)
}

// Append adds bytes to the packet. Fixed-size command/event blocks refuse to
// grow past their capacity.
func (b *Buffer) Append(p ...byte) error {
	if b.fixed && len(b.b)+len(p) > cap(b.b) {
		return errors.Errorf("buffer overflow: %d+%d > %d", len(b.b), len(p), cap(b.b))
	}
	b.b = append(b.b, p...)
	return nil
}

// Reset empties the buffer for reuse by its current owner.
func (b *Buffer) Reset() {
	b.b = b.b[:0]
}

// Release returns the buffer to its pool.
func (b *Buffer) Release() error {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return ErrBufferReleased
	}
	b.released = true
	b.mu.Unlock()

	if b.pool != nil {
		b.pool.put(b)
	}
	return nil
}

// Pool hands out fixed-size command/event blocks and a bounded number of
// growable ACL buffers.
type Pool struct {
	blocks  chan []byte
	aclToks chan struct{}
	aclMax  int

	muFree sync.Mutex
	onFree func()
}

// NewPool creates a pool of cmdCount blocks of cmdSize bytes and aclCount ACL
// buffers holding up to aclMax payload bytes each.
func NewPool(cmdCount, cmdSize, aclCount, aclMax int) (*Pool, error) {
	if cmdCount <= 0 || cmdSize <= 0 || aclCount <= 0 || aclMax <= 0 {
		return nil, errors.New("invalid pool dimensions")
	}

	p := &Pool{
		blocks:  make(chan []byte, cmdCount),
		aclToks: make(chan struct{}, aclCount),
		aclMax:  aclMax,
	}
	for i := 0; i < cmdCount; i++ {
		p.blocks <- make([]byte, 0, cmdSize)
	}
	for i := 0; i < aclCount; i++ {
		p.aclToks <- struct{}{}
	}
	return p, nil
}

// ACLMax is the largest ACL payload the pool accepts.
func (p *Pool) ACLMax() int {
	return p.aclMax
}

// SetOnFree registers a function called whenever a buffer returns to the
// pool. It runs on the releasing goroutine and must not block.
func (p *Pool) SetOnFree(fn func()) {
	p.muFree.Lock()
	p.onFree = fn
	p.muFree.Unlock()
}

// Get allocates a buffer for the given packet type without blocking.
func (p *Pool) Get(t PacketType) (*Buffer, error) {
	switch t {
	case PktTypeCommand, PktTypeEvent:
		select {
		case blk := <-p.blocks:
			return &Buffer{Type: t, b: blk[:0], pool: p, fixed: true}, nil
		default:
			return nil, ErrPoolExhausted
		}

	case PktTypeACLData:
		select {
		case <-p.aclToks:
			return &Buffer{Type: t, b: make([]byte, 0, ACLHeaderLen+64), pool: p}, nil
		default:
			return nil, ErrPoolExhausted
		}

	default:
		return nil, errors.Errorf("no buffers for packet type %v", t)
	}
}

// Free reports the number of free command/event blocks and ACL buffers.
func (p *Pool) Free() (cmd, acl int) {
	return len(p.blocks), len(p.aclToks)
}

func (p *Pool) put(b *Buffer) {
	if b.fixed {
		p.blocks <- b.b[:0]
	} else {
		p.aclToks <- struct{}{}
	}
	b.b = nil

	p.muFree.Lock()
	fn := p.onFree
	p.muFree.Unlock()
	if fn != nil {
		fn()
	}
}
