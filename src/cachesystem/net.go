package cachesystem

import (
	"fmt"

	"github.com/ApoorvaMN/SWLTP/src/esim"
)

// Node is an endpoint of a network: one memory-hierarchy module per node.
type Node struct {
	index int
	name  string
	mod   *Mod
}

func (this *Node) Index() int {
	return this.index
}

func (this *Node) Mod() *Mod {
	return this.mod
}

// Msg is an in-flight transfer. Receive at the destination releases its link
// slot.
type Msg struct {
	link *link
	src  *Node
	dst  *Node
	size int
}

type link struct {
	busy_until uint64
	inflight   int
}

// Net is a set of point-to-point channels between a lower module (node 0)
// and the modules above it. Delivery per (src,dst) pair is FIFO; a congested
// channel defers the sender instead of dropping.
type Net struct {
	engine *esim.Engine
	name   string

	width    int // bytes per cycle
	capacity int // messages in flight per link

	nodes []*Node
	links map[[2]int]*link
}

func (this *Net) Init(engine *esim.Engine, name string, width int, capacity int) {
	if width <= 0 {
		width = 8
	}
	if capacity <= 0 {
		capacity = 4
	}

	this.engine = engine
	this.name = name
	this.width = width
	this.capacity = capacity
	this.nodes = make([]*Node, 0)
	this.links = make(map[[2]int]*link)
}

func (this *Net) Name() string {
	return this.name
}

func (this *Net) AddNode(mod *Mod) *Node {
	node := new(Node)
	node.index = len(this.nodes)
	node.name = mod.name
	node.mod = mod
	this.nodes = append(this.nodes, node)

	return node
}

func (this *Net) Node(index int) *Node {
	return this.nodes[index]
}

func (this *Net) NodeCount() int {
	return len(this.nodes)
}

func (this *Net) linkFor(src *Node, dst *Node) *link {
	key := [2]int{src.index, dst.index}
	l, found := this.links[key]
	if !found {
		l = new(link)
		this.links[key] = l
	}

	return l
}

// TrySend places a message on the (src,dst) channel. When the channel is
// congested the send is abandoned and retry_event fires once space frees up;
// the caller re-attempts from the same flow stage. Otherwise receive_event
// fires at transmission completion and the returned message must be passed
// to Receive at the destination.
func (this *Net) TrySend(
	src *Node,
	dst *Node,
	size int,
	receive_event int,
	retry_event int,
	stack *ModStack,
) *Msg {
	if size <= 0 {
		err := fmt.Errorf("net %s: message of size %d", this.name, size)
		panic(err)
	}

	l := this.linkFor(src, dst)
	now := this.engine.Now()

	if l.inflight >= this.capacity {
		delay := uint64(1)
		if l.busy_until > now {
			delay = l.busy_until - now
		}
		this.engine.Schedule(retry_event, stack, delay)
		return nil
	}

	latency := uint64((size + this.width - 1) / this.width)
	if latency == 0 {
		latency = 1
	}

	start := now
	if l.busy_until > start {
		start = l.busy_until
	}
	done := start + latency
	l.busy_until = done
	l.inflight++

	msg := new(Msg)
	msg.link = l
	msg.src = src
	msg.dst = dst
	msg.size = size

	this.engine.Schedule(receive_event, stack, done-now)

	return msg
}

// Receive acknowledges msg at its destination, freeing the channel slot.
func (this *Net) Receive(node *Node, msg *Msg) {
	if msg == nil {
		err := fmt.Errorf("net %s: receive of nil message at %s", this.name, node.name)
		panic(err)
	}
	if msg.dst != node {
		err := fmt.Errorf("net %s: message for %s received at %s",
			this.name, msg.dst.name, node.name)
		panic(err)
	}

	msg.link.inflight--
}
