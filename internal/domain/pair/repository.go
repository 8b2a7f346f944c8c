package pair

import (
	"context"
)

// Repository defines the operations for persisting and retrieving Pair entities.
type Repository interface {
	Create(ctx context.Context, p *Pair) error
	GetByID(ctx context.Context, id int64) (*Pair, error)
	GetByParticipant(ctx context.Context, participantID int64) (*Pair, error)
	Update(ctx context.Context, p *Pair) error // membership status, activation
	ListActive(ctx context.Context) ([]*Pair, error)
}
