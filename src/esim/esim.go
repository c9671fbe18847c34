package esim

import (
	"container/heap"
	"fmt"
	"time"
)

// TickHandler runs once per simulated tick, after the events due at that tick
// have been dispatched. The context scheduler and suspended-context poller
// hook in here.
type TickHandler func()

// Engine is the single-threaded cooperative event kernel. Handlers must not
// block; they may schedule further events, including zero-delay ones, which
// dispatch within the same tick in FIFO order.
type Engine struct {
	now uint64

	events   eventHeap
	next_seq uint64

	handlers      []Handler
	handler_names []string

	tick_handlers []TickHandler

	start_time time.Time
}

func (this *Engine) Init() {
	this.events = make(eventHeap, 0)
	this.handlers = make([]Handler, 0)
	this.handler_names = make([]string, 0)
	this.tick_handlers = make([]TickHandler, 0)
	this.start_time = time.Now()
}

func (this *Engine) Now() uint64 {
	return this.now
}

// RealTime returns microseconds elapsed since the engine was initialized,
// used as the base for host-relative timeout arithmetic.
func (this *Engine) RealTime() int64 {
	return time.Since(this.start_time).Microseconds()
}

// RegisterEvent assigns an event kind id to a handler. Several kinds may
// share one handler function.
func (this *Engine) RegisterEvent(name string, handler Handler) int {
	kind := len(this.handlers)
	this.handlers = append(this.handlers, handler)
	this.handler_names = append(this.handler_names, name)

	return kind
}

func (this *Engine) EventName(kind int) string {
	return this.handler_names[kind]
}

func (this *Engine) AddTickHandler(tick_handler TickHandler) {
	this.tick_handlers = append(this.tick_handlers, tick_handler)
}

// Schedule inserts an event firing at now+delay. There is no cancellation;
// handlers of abandoned flows must short-circuit on their own state.
func (this *Engine) Schedule(kind int, data interface{}, delay uint64) {
	if kind < 0 || kind >= len(this.handlers) {
		err := fmt.Errorf("esim: schedule of unregistered event kind %d", kind)
		panic(err)
	}

	item := new(event)
	item.kind = kind
	item.data = data
	item.when = this.now + delay
	item.seq = this.next_seq
	this.next_seq++

	heap.Push(&this.events, item)
}

func (this *Engine) Pending() int {
	return len(this.events)
}

// ProcessEvents dispatches every event due at the current tick, runs the
// per-tick handlers, and advances the clock by one.
func (this *Engine) ProcessEvents() {
	this.dispatchDue()

	for _, tick_handler := range this.tick_handlers {
		tick_handler()
	}

	this.now++
}

// RunUntilIdle drains the event queue, jumping the clock to the next pending
// fire time between batches. Per-tick handlers run at every visited tick.
func (this *Engine) RunUntilIdle() {
	for len(this.events) > 0 {
		if this.events[0].when > this.now {
			this.now = this.events[0].when
		}

		this.dispatchDue()

		for _, tick_handler := range this.tick_handlers {
			tick_handler()
		}
	}
}

func (this *Engine) dispatchDue() {
	for len(this.events) > 0 && this.events[0].when <= this.now {
		item := heap.Pop(&this.events).(*event)
		this.handlers[item.kind](item.kind, item.data)
	}
}
