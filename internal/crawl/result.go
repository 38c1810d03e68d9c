package crawl

// Kind tags the outcome of one state handler.
type Kind int

const (
	Continue Kind = iota
	Stop
	Fail
)

// Class names why a run ended.
type Class int

const (
	ClassNone Class = iota
	ClassUnavailable
	ClassTransientTimeout
	ClassStaleContent
	ClassDuplicateWrite
	ClassFeedExhausted
	ClassStructuralMissing
	ClassPersistenceFailure
	ClassSessionFailure
	ClassCanceled
	ClassInternal
)

var classNames = map[Class]string{
	ClassNone:               "none",
	ClassUnavailable:        "unavailable",
	ClassTransientTimeout:   "transient_timeout",
	ClassStaleContent:       "stale_content",
	ClassDuplicateWrite:     "duplicate_write",
	ClassFeedExhausted:      "feed_exhausted",
	ClassStructuralMissing:  "structural_missing",
	ClassPersistenceFailure: "persistence_failure",
	ClassSessionFailure:     "session_failure",
	ClassCanceled:           "canceled",
	ClassInternal:           "internal",
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return "unknown"
}

// Failure reports whether runs ending with c go to the retry ledger.
func (c Class) Failure() bool {
	switch c {
	case ClassTransientTimeout, ClassStructuralMissing, ClassPersistenceFailure,
		ClassSessionFailure, ClassInternal:
		return true
	}
	return false
}

// Result is what a state handler returns instead of raising for expected
// branches.
type Result struct {
	Kind  Kind
	Class Class
	Err   error
}

func proceed() Result { return Result{Kind: Continue} }

func stop(c Class) Result { return Result{Kind: Stop, Class: c} }

func fail(c Class, err error) Result { return Result{Kind: Fail, Class: c, Err: err} }

// Outcome summarizes one entity run.
type Outcome struct {
	Entity string
	Class  Class
	Items  int
	Err    error
}
