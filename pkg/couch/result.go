package couch

// Outcome tags the variant held by a Result.
type Outcome int

const (
	// Absent means the server answered 404 to a probe.
	Absent Outcome = iota
	// Found means the server returned the resource.
	Found
	// NotModified means a conditional request matched the caller's
	// revision and the server returned no new data.
	NotModified
)

func (o Outcome) String() string {
	switch o {
	case Absent:
		return "absent"
	case Found:
		return "found"
	case NotModified:
		return "not-modified"
	default:
		return "unknown"
	}
}

// Result is the three-way outcome of reads that may legitimately produce no
// data: Found(value), NotModified or Absent. Value is the zero value for
// Absent, and for NotModified unless the operation documents otherwise.
type Result[T any] struct {
	Outcome Outcome
	Value   T
}

// IsFound reports whether the result carries a freshly returned value.
func (r Result[T]) IsFound() bool { return r.Outcome == Found }

// IsNotModified reports whether the conditional request matched.
func (r Result[T]) IsNotModified() bool { return r.Outcome == NotModified }

// IsAbsent reports whether the resource does not exist.
func (r Result[T]) IsAbsent() bool { return r.Outcome == Absent }

func found[T any](v T) Result[T] { return Result[T]{Outcome: Found, Value: v} }

func absent[T any]() Result[T] { return Result[T]{Outcome: Absent} }

func notModified[T any](v T) Result[T] { return Result[T]{Outcome: NotModified, Value: v} }
