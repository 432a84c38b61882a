package driver

// MemAccess is the sum type backing spec.md §3's "event access modes"
// for memory. The current hypervisor ABIs represent this as a bitmask
// with one non-composable sentinel (execute-on-write); per Design Note
// §9 that bitmask shape is an ABI coincidence, not the model, so the
// combiner below is total and returns an explicit Invalid rather than
// leaning on integer arithmetic to reject bad combinations.
type MemAccess uint8

const (
	// MemNone grants no access and traps nothing.
	MemNone MemAccess = 0
	// MemRead traps reads.
	MemRead MemAccess = 1 << 0
	// MemWrite traps writes.
	MemWrite MemAccess = 1 << 1
	// MemExecute traps instruction fetches.
	MemExecute MemAccess = 1 << 2
	// MemExecuteOnWrite traps only instruction fetches that follow a
	// write to the same page; it cannot be combined with anything else.
	MemExecuteOnWrite MemAccess = 1 << 3
)

// String renders the set bits of a MemAccess for logs and CLI output.
func (m MemAccess) String() string {
	if m == MemNone {
		return "none"
	}
	if m == MemExecuteOnWrite {
		return "execute-on-write"
	}

	var parts []string
	if m&MemRead != 0 {
		parts = append(parts, "read")
	}
	if m&MemWrite != 0 {
		parts = append(parts, "write")
	}
	if m&MemExecute != 0 {
		parts = append(parts, "execute")
	}

	if len(parts) == 0 {
		return "unknown"
	}

	out := parts[0]
	for _, p := range parts[1:] {
		out += "|" + p
	}

	return out
}

// RegAccess is the register-event counterpart of MemAccess. Registers
// have no execute mode and no incompatible sentinel.
type RegAccess uint8

const (
	RegNone  RegAccess = 0
	RegRead  RegAccess = 1 << 0
	RegWrite RegAccess = 1 << 1
)

// String renders the set bits of a RegAccess for logs and CLI output.
func (r RegAccess) String() string {
	switch r {
	case RegNone:
		return "none"
	case RegRead:
		return "read"
	case RegWrite:
		return "write"
	case RegRead | RegWrite:
		return "read|write"
	default:
		return "unknown"
	}
}

// CombineMem implements spec.md §4.5's access combiner:
//  1. equal masks combine to themselves
//  2. None is the identity
//  3. ExecuteOnWrite cannot combine with anything but itself or None
//  4. otherwise the combination is the bitwise union
//
// ok is false exactly when the combination is invalid.
func CombineMem(current, additional MemAccess) (result MemAccess, ok bool) {
	if current == additional {
		return current, true
	}

	if current == MemNone {
		return additional, true
	}

	if additional == MemNone {
		return current, true
	}

	if current == MemExecuteOnWrite || additional == MemExecuteOnWrite {
		return 0, false
	}

	return current | additional, true
}

// Protection describes the host-side mapping protection requested from
// map_frame.
type Protection uint8

const (
	ProtRead Protection = 1 << iota
	ProtWrite
)
