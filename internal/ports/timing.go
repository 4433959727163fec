package ports

// Clock reports monotonic nanoseconds relative to an arbitrary origin.
type Clock interface {
	Nanotime() int64
}

// Waiter blocks until the monotonic clock reaches deadline.
type Waiter interface {
	WaitUntil(deadline int64)
}
