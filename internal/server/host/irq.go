package host

import "sync"

// irqQueue is the per-subscriber buffer; edges beyond it are dropped.
const irqQueue = 64

// IRQLine is a level-triggered interrupt line. It tracks the current level
// and fans every edge out to subscribers.
type IRQLine struct {
	mu     sync.Mutex
	level  bool
	raises uint64
	subs   map[int]chan bool
	next   int
	closed bool
}

// NewIRQLine returns a lowered line.
func NewIRQLine() *IRQLine {
	return &IRQLine{subs: make(map[int]chan bool)}
}

// Raise asserts the line.
func (l *IRQLine) Raise() { l.set(true) }

// Lower deasserts the line.
func (l *IRQLine) Lower() { l.set(false) }

func (l *IRQLine) set(level bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level == level {
		return
	}
	l.level = level
	if level {
		l.raises++
	}
	for _, ch := range l.subs {
		select {
		case ch <- level:
		default:
		}
	}
}

// Level reports whether the line is asserted.
func (l *IRQLine) Level() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// Raises counts rising edges since creation.
func (l *IRQLine) Raises() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.raises
}

// Subscribe returns a channel receiving the new level on every edge, and a
// function that ends the subscription. The channel is closed when the
// subscription ends or the line is closed.
func (l *IRQLine) Subscribe() (<-chan bool, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan bool, irqQueue)
	if l.closed {
		close(ch)
		return ch, func() {}
	}
	id := l.next
	l.next++
	l.subs[id] = ch
	return ch, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if c, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(c)
		}
	}
}

// Close ends all subscriptions.
func (l *IRQLine) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
}
