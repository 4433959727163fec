package ports

// CommandSource delivers raw command payloads from a transport.
// deliver runs on the source's own goroutine.
type CommandSource interface {
	Start(deliver func(payload []byte)) error
	Stop() error
	Name() string
}
