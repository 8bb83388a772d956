package broadcast

import "sync"

// dispatcher queues received messages and hands them to the subscribed
// handlers from a single goroutine.
type dispatcher struct {
	mu       sync.Mutex
	cond     *sync.Cond
	handlers map[uint64]func(Message)
	order    []uint64
	nextID   uint64
	queue    []Message
	closed   bool
	done     chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		handlers: make(map[uint64]func(Message)),
		done:     make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.loop()
	return d
}

func (d *dispatcher) enqueue(msg Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, msg)
	d.cond.Signal()
}

func (d *dispatcher) subscribe(fn func(Message)) func() {
	if fn == nil {
		return func() {}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return func() {}
	}
	id := d.nextID
	d.nextID++
	d.handlers[id] = fn
	d.order = append(d.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			delete(d.handlers, id)
			for i, v := range d.order {
				if v == id {
					d.order = append(d.order[:i], d.order[i+1:]...)
					break
				}
			}
		})
	}
}

// close drops pending messages and stops the delivery goroutine.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.queue = nil
	d.cond.Broadcast()
	d.mu.Unlock()
	<-d.done
}

func (d *dispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.closed {
			d.mu.Unlock()
			return
		}
		msg := d.queue[0]
		d.queue[0] = Message{}
		d.queue = d.queue[1:]
		handlers := make([]func(Message), 0, len(d.order))
		for _, id := range d.order {
			handlers = append(handlers, d.handlers[id])
		}
		d.mu.Unlock()

		for _, fn := range handlers {
			fn(msg)
		}
	}
}
