package kernel

import (
	"github.com/ApoorvaMN/SWLTP/src/misc"
)

// SignalSet is a 64-signal bitmap; signal numbers are 1-based.
type SignalSet uint64

func (this SignalSet) IsMember(sig int) bool {
	if sig < 1 || sig > 64 {
		return false
	}
	return this&(1<<uint(sig-1)) != 0
}

func (this *SignalSet) Add(sig int) {
	if sig < 1 || sig > 64 {
		return
	}
	*this |= 1 << uint(sig-1)
}

func (this *SignalSet) Remove(sig int) {
	if sig < 1 || sig > 64 {
		return
	}
	*this &^= 1 << uint(sig-1)
}

func (this SignalSet) Any() bool {
	return this != 0
}

// SignalHandler is one entry of the guest sigaction table.
type SignalHandler struct {
	handler  uint32
	flags    uint32
	restorer uint32
	mask     SignalSet
}

func (this *SignalHandler) Handler() uint32 {
	return this.handler
}

// SignalHandlerTable is shared between the contexts of a thread group.
type SignalHandlerTable struct {
	handlers [65]SignalHandler
}

func (this *SignalHandlerTable) Init() {
}

func (this *SignalHandlerTable) Handler(sig int) *SignalHandler {
	return &this.handlers[sig]
}

func (this *SignalHandlerTable) Clone() *SignalHandlerTable {
	copy_ := new(SignalHandlerTable)
	copy_.handlers = this.handlers

	return copy_
}

// SignalMaskTable is per-context signal delivery state.
type SignalMaskTable struct {
	pending SignalSet
	blocked SignalSet
}

func (this *SignalMaskTable) Pending() SignalSet {
	return this.pending
}

func (this *SignalMaskTable) Blocked() SignalSet {
	return this.blocked
}

func (this *SignalMaskTable) SetBlocked(blocked SignalSet) {
	this.blocked = blocked
}

var signal_map = misc.StringMap{
	{Name: "SIGHUP", Value: 1},
	{Name: "SIGINT", Value: 2},
	{Name: "SIGQUIT", Value: 3},
	{Name: "SIGILL", Value: 4},
	{Name: "SIGTRAP", Value: 5},
	{Name: "SIGABRT", Value: 6},
	{Name: "SIGBUS", Value: 7},
	{Name: "SIGFPE", Value: 8},
	{Name: "SIGKILL", Value: 9},
	{Name: "SIGUSR1", Value: 10},
	{Name: "SIGSEGV", Value: 11},
	{Name: "SIGUSR2", Value: 12},
	{Name: "SIGPIPE", Value: 13},
	{Name: "SIGALRM", Value: 14},
	{Name: "SIGTERM", Value: 15},
	{Name: "SIGSTKFLT", Value: 16},
	{Name: "SIGCHLD", Value: 17},
	{Name: "SIGCONT", Value: 18},
	{Name: "SIGSTOP", Value: 19},
	{Name: "SIGTSTP", Value: 20},
	{Name: "SIGTTIN", Value: 21},
	{Name: "SIGTTOU", Value: 22},
	{Name: "SIGURG", Value: 23},
	{Name: "SIGXCPU", Value: 24},
	{Name: "SIGXFSZ", Value: 25},
	{Name: "SIGVTALRM", Value: 26},
	{Name: "SIGPROF", Value: 27},
	{Name: "SIGWINCH", Value: 28},
	{Name: "SIGIO", Value: 29},
	{Name: "SIGPWR", Value: 30},
	{Name: "SIGSYS", Value: 31},
}

const (
	SigIll  = 4
	SigBus  = 7
	SigFpe  = 8
	SigSegv = 11
	SigChld = 17
	SigUrg  = 23
	SigCont = 18
	SigStop = 19
	SigTstp = 20
	SigTtin = 21
	SigTtou = 22
	SigWinch = 28
)
