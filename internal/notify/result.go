package notify

// Result distinguishes "nothing found" from a failure and from a value, so a
// collector that runs out of items does not have to report an error.
type Result[T any] struct {
	value T
	err   error
	ok    bool
}

func Empty[T any]() Result[T] { return Result[T]{} }

func Fail[T any](err error) Result[T] { return Result[T]{err: err} }

func Value[T any](v T) Result[T] { return Result[T]{value: v, ok: true} }

func (r Result[T]) IsEmpty() bool { return !r.ok && r.err == nil }

func (r Result[T]) Err() error { return r.err }

// Get returns the value and whether there is one.
func (r Result[T]) Get() (T, bool) { return r.value, r.ok }
