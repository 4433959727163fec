package ports

import "github.com/ghalamif/AegisRT/internal/domain"

// ObservationQueue hands observations from the scheduler to the publisher.
// Enqueue must never block.
type ObservationQueue interface {
	Enqueue(o domain.Observation) bool
	Drain(max int) []domain.Observation
	Len() int
}
