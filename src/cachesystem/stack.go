package cachesystem

// ModStack is the heap frame of one in-flight coherence event chain. Child
// flows link back to their parent through ret_stack/ret_event; posting
// results means writing into the parent frame and scheduling its
// continuation.
type ModStack struct {
	id uint64

	mod        *Mod
	target_mod *Mod

	addr  uint32
	tag   uint32
	set   int
	way   int
	state BlockState

	ret_event int
	ret_stack *ModStack

	// Request qualifiers.
	blocking bool
	read     bool
	retried  bool

	// Results posted by child flows.
	hit    bool
	err    bool
	shared bool

	// Eviction sub-flow bookkeeping.
	eviction  bool
	writeback bool
	src_set   int
	src_way   int
	src_tag   uint32

	pending    int
	reply_size int

	msg        *Msg
	except_mod *Mod
	dir_lock   *DirLock

	// Set on root frames only, invoked when the access completes.
	on_complete func(*ModStack)
}

func (this *ModStack) Id() uint64 {
	return this.id
}

func (this *ModStack) Err() bool {
	return this.err
}

func (this *ModStack) Shared() bool {
	return this.shared
}

func (this *ModStack) Addr() uint32 {
	return this.addr
}
