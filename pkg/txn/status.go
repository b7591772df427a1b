package txn

// Status is the state of a transaction session.
type Status int

const (
	// Draft holds no quote.
	Draft Status = iota
	// Quoted holds a reserved quote that may be confirmed.
	Quoted
	// Confirming has a confirm call outstanding.
	Confirming
	// Succeeded is terminal; the session carries the canonical record.
	Succeeded
	// Failed is terminal; the quote must not be confirmed again.
	Failed
)

// String returns the lower-case name of the status.
func (s Status) String() string {
	switch s {
	case Draft:
		return "draft"
	case Quoted:
		return "quoted"
	case Confirming:
		return "confirming"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition other than Reset is allowed.
func (s Status) Terminal() bool {
	return s == Succeeded || s == Failed
}

// transitions lists the guarded edges of the state machine. Reset is
// allowed from every state and is not listed.
var transitions = map[Status][]Status{
	Draft:      {Quoted},
	Quoted:     {Confirming},
	Confirming: {Succeeded, Quoted, Failed},
}

// CanTransition reports whether from -> to is a guarded edge.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
