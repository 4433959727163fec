package ports

import "github.com/ghalamif/AegisRT/internal/domain"

// Recorder persists cycle records. Errors are fatal for the run.
type Recorder interface {
	Record(rec domain.CycleRecord) error
	Close() error
	Path() string
}
