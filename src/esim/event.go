package esim

// Handler runs when a scheduled event fires. The event id distinguishes the
// stages of a multi-event flow that share one handler.
type Handler func(event int, data interface{})

type event struct {
	kind int
	data interface{}
	when uint64
	seq  uint64
}

// eventHeap orders events by fire time, breaking ties by insertion order so
// that equal-time events dispatch FIFO.
type eventHeap []*event

func (this eventHeap) Len() int {
	return len(this)
}

func (this eventHeap) Less(i int, j int) bool {
	if this[i].when != this[j].when {
		return this[i].when < this[j].when
	}

	return this[i].seq < this[j].seq
}

func (this eventHeap) Swap(i int, j int) {
	this[i], this[j] = this[j], this[i]
}

func (this *eventHeap) Push(x interface{}) {
	*this = append(*this, x.(*event))
}

func (this *eventHeap) Pop() interface{} {
	old := *this
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*this = old[:n-1]

	return item
}
