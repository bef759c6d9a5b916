package util

import "sync"

// BytePool recycles fixed-width receive buffers.
type BytePool struct {
	pool  chan []byte
	width int
	mu    sync.RWMutex
}

func NewBytePool(width int, depth int) *BytePool {
	return &BytePool{
		pool:  make(chan []byte, depth),
		width: width,
	}
}

func (p *BytePool) Width() int {
	return p.width
}

func (p *BytePool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool == nil {
		return
	}
	close(p.pool)
	p.pool = nil
}

// Get returns a buffer of Width bytes. After Close it allocates.
func (p *BytePool) Get() (b []byte) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.pool == nil {
		return make([]byte, p.width)
	}

	select {
	case b = <-p.pool:
	default:
		b = make([]byte, p.width)
	}
	return b
}

func (p *BytePool) Put(b []byte) {
	if cap(b) < p.width {
		return
	}
	b = b[:p.width]

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.pool == nil {
		return
	}

	select {
	case p.pool <- b:
	default:
	}
}
