package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ritual_sync_service/internal/domain/pair"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Custom errors
var ErrPairNotFound = fmt.Errorf("pair not found")
var ErrDuplicateParticipant = fmt.Errorf("participant already belongs to a pair")

type PostgresPairRepository struct {
	db *sql.DB
}

func NewPostgresPairRepository(db *sql.DB) *PostgresPairRepository {
	return &PostgresPairRepository{db: db}
}

func (r *PostgresPairRepository) Create(ctx context.Context, p *pair.Pair) error {
	query := `INSERT INTO pairs (participant_one_id, participant_two_id, participant_one_status, participant_two_status, is_active)
               VALUES ($1, $2, $3, $4, $5)
               RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		p.ParticipantOneID, p.ParticipantTwoID, p.ParticipantOneStatus, p.ParticipantTwoStatus, p.IsActive,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "unique constraint") && strings.Contains(err.Error(), "pairs_participant") {
			return ErrDuplicateParticipant
		}
		return fmt.Errorf("error creating pair: %w", err)
	}
	return nil
}

func (r *PostgresPairRepository) GetByID(ctx context.Context, id int64) (*pair.Pair, error) {
	query := `SELECT id, participant_one_id, participant_two_id, participant_one_status, participant_two_status, is_active, created_at, updated_at
               FROM pairs WHERE id = $1`
	p := &pair.Pair{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.ParticipantOneID, &p.ParticipantTwoID,
		&p.ParticipantOneStatus, &p.ParticipantTwoStatus, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPairNotFound
		}
		return nil, fmt.Errorf("error getting pair by ID: %w", err)
	}
	return p, nil
}

func (r *PostgresPairRepository) GetByParticipant(ctx context.Context, participantID int64) (*pair.Pair, error) {
	query := `SELECT id, participant_one_id, participant_two_id, participant_one_status, participant_two_status, is_active, created_at, updated_at
               FROM pairs WHERE participant_one_id = $1 OR participant_two_id = $1`
	p := &pair.Pair{}
	err := r.db.QueryRowContext(ctx, query, participantID).Scan(
		&p.ID, &p.ParticipantOneID, &p.ParticipantTwoID,
		&p.ParticipantOneStatus, &p.ParticipantTwoStatus, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPairNotFound
		}
		return nil, fmt.Errorf("error getting pair by participant: %w", err)
	}
	return p, nil
}

func (r *PostgresPairRepository) Update(ctx context.Context, p *pair.Pair) error {
	query := `UPDATE pairs
               SET participant_two_id = $1, participant_one_status = $2, participant_two_status = $3, is_active = $4, updated_at = NOW()
               WHERE id = $5
               RETURNING updated_at`

	err := r.db.QueryRowContext(ctx, query,
		p.ParticipantTwoID, p.ParticipantOneStatus, p.ParticipantTwoStatus, p.IsActive, p.ID,
	).Scan(&p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrPairNotFound
		}
		return fmt.Errorf("error updating pair: %w", err)
	}
	return nil
}

func (r *PostgresPairRepository) ListActive(ctx context.Context) ([]*pair.Pair, error) {
	query := `SELECT id, participant_one_id, participant_two_id, participant_one_status, participant_two_status, is_active, created_at, updated_at
               FROM pairs
               WHERE is_active = TRUE
                 AND participant_one_status = $1 AND participant_two_status = $1
               ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, pair.MembershipActive)
	if err != nil {
		return nil, fmt.Errorf("error listing active pairs: %w", err)
	}
	defer rows.Close()

	pairs := make([]*pair.Pair, 0)
	for rows.Next() {
		p := &pair.Pair{}
		if err := rows.Scan(
			&p.ID, &p.ParticipantOneID, &p.ParticipantTwoID,
			&p.ParticipantOneStatus, &p.ParticipantTwoStatus, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning active pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active pairs: %w", err)
	}
	return pairs, nil
}
