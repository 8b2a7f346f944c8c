// internal/infra/database/postgres_cycle_repository.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"ritual_sync_service/internal/domain/cycle"

	"github.com/google/uuid"
)

// Custom errors specific to the cycle repository
var ErrCycleNotFound = fmt.Errorf("cycle not found")
var ErrGenerationInFlight = fmt.Errorf("a generation attempt is already recorded for this cycle")
var ErrArtifactAlreadySet = fmt.Errorf("cycle artifact is already set")
var ErrAlreadyAgreed = fmt.Errorf("cycle agreement is already finalized")
var ErrTooManyPreferences = fmt.Errorf("more than the allowed number of ranked preferences")
var ErrInvalidPreferenceRank = fmt.Errorf("preference rank must be 1..3 and unique per participant")

// Notify channels emitted on commit of every mutating transaction. The
// realtime listener subscribes to exactly these three.
const (
	ChannelCycleChanged        = "cycle_changed"
	ChannelPreferenceChanged   = "cycle_preference_changed"
	ChannelAvailabilityChanged = "cycle_availability_changed"
)

// querier is satisfied by both *sql.DB and *sql.Tx so snapshot loading can run
// inside or outside a transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type PostgresCycleRepository struct {
	db *sql.DB
	// generationTimeout feeds status derivation so the stored status and any
	// client-side derivation use the same cutoff.
	generationTimeout time.Duration
}

func NewPostgresCycleRepository(db *sql.DB, generationTimeout time.Duration) *PostgresCycleRepository {
	if generationTimeout <= 0 {
		generationTimeout = cycle.DefaultGenerationTimeout
	}
	return &PostgresCycleRepository{db: db, generationTimeout: generationTimeout}
}

const cycleColumns = `id, pair_id, input_one, input_one_submitted_at, input_two, input_two_submitted_at,
               artifact, generation_started_at, agreed_item_id, agreed_date, agreed_bucket,
               completed_at, status, created_at, updated_at`

func scanCycle(row interface{ Scan(...any) error }) (*cycle.Cycle, error) {
	c := cycle.Cycle{}
	var artifactRaw []byte
	err := row.Scan(
		&c.ID, &c.PairID, &c.InputOne, &c.InputOneSubmittedAt, &c.InputTwo, &c.InputTwoSubmittedAt,
		&artifactRaw, &c.GenerationStartedAt, &c.AgreedItemID, &c.AgreedDate, &c.AgreedBucket,
		&c.CompletedAt, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(artifactRaw) > 0 {
		a := cycle.Artifact{}
		if err := json.Unmarshal(artifactRaw, &a); err != nil {
			return nil, fmt.Errorf("error decoding cycle artifact: %w", err)
		}
		c.Artifact = &a
	}
	return &c, nil
}

// --- Cycle methods ---

func (r *PostgresCycleRepository) Create(ctx context.Context, c *cycle.Cycle) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Status = cycle.Derive(&cycle.Snapshot{Cycle: c}, time.Now(), r.generationTimeout)
	query := `INSERT INTO ritual_cycles (id, pair_id, status)
               VALUES ($1, $2, $3)
               RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, c.ID, c.PairID, c.Status).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error creating cycle: %w", err)
	}
	return nil
}

func (r *PostgresCycleRepository) GetByID(ctx context.Context, id uuid.UUID) (*cycle.Cycle, error) {
	return getCycle(ctx, r.db, id)
}

func getCycle(ctx context.Context, q querier, id uuid.UUID) (*cycle.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM ritual_cycles WHERE id = $1`
	c, err := scanCycle(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCycleNotFound
		}
		return nil, fmt.Errorf("error getting cycle by ID: %w", err)
	}
	return c, nil
}

func (r *PostgresCycleRepository) GetOpenByPair(ctx context.Context, pairID int64) (*cycle.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM ritual_cycles
               WHERE pair_id = $1 AND completed_at IS NULL
               ORDER BY created_at DESC LIMIT 1`
	c, err := scanCycle(r.db.QueryRowContext(ctx, query, pairID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCycleNotFound
		}
		return nil, fmt.Errorf("error getting open cycle for pair: %w", err)
	}
	return c, nil
}

func (r *PostgresCycleRepository) GetSnapshot(ctx context.Context, id uuid.UUID) (*cycle.Snapshot, error) {
	return loadSnapshot(ctx, r.db, id)
}

func loadSnapshot(ctx context.Context, q querier, id uuid.UUID) (*cycle.Snapshot, error) {
	c, err := getCycle(ctx, q, id)
	if err != nil {
		return nil, err
	}
	prefs, err := listPreferences(ctx, q, id)
	if err != nil {
		return nil, err
	}
	avail, err := listAvailability(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return &cycle.Snapshot{Cycle: c, Preferences: prefs, Availability: avail}, nil
}

// mutate runs fn inside a transaction, then recomputes and persists the
// cycle's status from the post-mutation row state and notifies the given
// channel. NOTIFY fires on commit, so subscribers only ever see committed
// state.
func (r *PostgresCycleRepository) mutate(ctx context.Context, id uuid.UUID, channel string, fn func(tx *sql.Tx) error) error {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cycle transaction: %w", err)
	}
	defer txn.Rollback()

	if err := fn(txn); err != nil {
		return err
	}

	snap, err := loadSnapshot(ctx, txn, id)
	if err != nil {
		return err
	}
	status := cycle.Derive(snap, time.Now(), r.generationTimeout)
	if _, err := txn.ExecContext(ctx,
		`UPDATE ritual_cycles SET status = $1, updated_at = NOW() WHERE id = $2`, status, id); err != nil {
		return fmt.Errorf("error persisting recomputed status: %w", err)
	}

	if _, err := txn.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channel, id.String()); err != nil {
		return fmt.Errorf("error notifying channel %s: %w", channel, err)
	}

	return txn.Commit()
}

func (r *PostgresCycleRepository) SubmitInput(ctx context.Context, id uuid.UUID, slot cycle.Slot, payload string) error {
	return r.mutate(ctx, id, ChannelCycleChanged, func(tx *sql.Tx) error {
		query := `UPDATE ritual_cycles
                   SET input_one = $1, input_one_submitted_at = NOW()
                   WHERE id = $2 AND agreed_item_id IS NULL`
		if slot == cycle.SlotTwo {
			query = `UPDATE ritual_cycles
                   SET input_two = $1, input_two_submitted_at = NOW()
                   WHERE id = $2 AND agreed_item_id IS NULL`
		}
		res, err := tx.ExecContext(ctx, query, payload, id)
		if err != nil {
			return fmt.Errorf("error submitting input for slot %s: %w", slot, err)
		}
		return requireRow(ctx, tx, res, id)
	})
}

func (r *PostgresCycleRepository) MarkGenerationStarted(ctx context.Context, id uuid.UUID, force bool) error {
	return r.mutate(ctx, id, ChannelCycleChanged, func(tx *sql.Tx) error {
		var res sql.Result
		var err error
		if force {
			// Manual retry: overwrite the failed attempt's timestamp.
			res, err = tx.ExecContext(ctx,
				`UPDATE ritual_cycles SET generation_started_at = NOW()
                   WHERE id = $1 AND artifact IS NULL`, id)
		} else {
			res, err = tx.ExecContext(ctx,
				`UPDATE ritual_cycles SET generation_started_at = NOW()
                   WHERE id = $1 AND artifact IS NULL AND generation_started_at IS NULL`, id)
		}
		if err != nil {
			return fmt.Errorf("error marking generation started: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			c, getErr := getCycle(ctx, tx, id)
			if getErr != nil {
				return getErr
			}
			if c.Artifact != nil {
				return ErrArtifactAlreadySet
			}
			return ErrGenerationInFlight
		}
		return nil
	})
}

func (r *PostgresCycleRepository) SetArtifactIfUnset(ctx context.Context, id uuid.UUID, a *cycle.Artifact) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("error encoding artifact: %w", err)
	}
	return r.mutate(ctx, id, ChannelCycleChanged, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE ritual_cycles SET artifact = $1 WHERE id = $2 AND artifact IS NULL`, raw, id)
		if err != nil {
			return fmt.Errorf("error setting artifact: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			if _, getErr := getCycle(ctx, tx, id); getErr != nil {
				return getErr
			}
			return ErrArtifactAlreadySet
		}
		return nil
	})
}

// --- Preference methods ---

func (r *PostgresCycleRepository) ReplacePreferences(ctx context.Context, id uuid.UUID, slot cycle.Slot, prefs []*cycle.Preference) error {
	if len(prefs) > cycle.MaxPreferences {
		return ErrTooManyPreferences
	}
	seen := make(map[int]bool, len(prefs))
	for _, p := range prefs {
		if p.Rank < 1 || p.Rank > cycle.MaxPreferences || seen[p.Rank] {
			return ErrInvalidPreferenceRank
		}
		seen[p.Rank] = true
	}

	return r.mutate(ctx, id, ChannelPreferenceChanged, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM cycle_preferences WHERE cycle_id = $1 AND slot = $2`, id, slot); err != nil {
			return fmt.Errorf("error clearing preferences: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO cycle_preferences (cycle_id, slot, item_id, rank) VALUES ($1, $2, $3, $4)`)
		if err != nil {
			return fmt.Errorf("failed to prepare preference insert: %w", err)
		}
		defer stmt.Close()
		for _, p := range prefs {
			if _, err := stmt.ExecContext(ctx, id, slot, p.ItemID, p.Rank); err != nil {
				return fmt.Errorf("error inserting preference (item %s rank %d): %w", p.ItemID, p.Rank, err)
			}
		}
		return nil
	})
}

func (r *PostgresCycleRepository) ListPreferences(ctx context.Context, id uuid.UUID) ([]*cycle.Preference, error) {
	return listPreferences(ctx, r.db, id)
}

func listPreferences(ctx context.Context, q querier, id uuid.UUID) ([]*cycle.Preference, error) {
	query := `SELECT id, cycle_id, slot, item_id, rank, created_at
               FROM cycle_preferences WHERE cycle_id = $1 ORDER BY slot, rank`
	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("error querying preferences: %w", err)
	}
	defer rows.Close()

	prefs := make([]*cycle.Preference, 0)
	for rows.Next() {
		p := cycle.Preference{}
		if err := rows.Scan(&p.ID, &p.CycleID, &p.Slot, &p.ItemID, &p.Rank, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning preference row: %w", err)
		}
		prefs = append(prefs, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating preference rows: %w", err)
	}
	return prefs, nil
}

// --- Availability methods ---

func (r *PostgresCycleRepository) AddAvailability(ctx context.Context, id uuid.UUID, slot cycle.Slot, dayOffset int, bucket cycle.TimeBucket) error {
	return r.mutate(ctx, id, ChannelAvailabilityChanged, func(tx *sql.Tx) error {
		// Set semantics: the unique index makes re-adding a no-op.
		_, err := tx.ExecContext(ctx,
			`INSERT INTO cycle_availability (cycle_id, slot, day_offset, bucket)
               VALUES ($1, $2, $3, $4)
               ON CONFLICT ON CONSTRAINT cycle_availability_unique DO NOTHING`,
			id, slot, dayOffset, bucket)
		if err != nil {
			return fmt.Errorf("error adding availability: %w", err)
		}
		return nil
	})
}

func (r *PostgresCycleRepository) RemoveAvailability(ctx context.Context, id uuid.UUID, slot cycle.Slot, dayOffset int, bucket cycle.TimeBucket) error {
	return r.mutate(ctx, id, ChannelAvailabilityChanged, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM cycle_availability
               WHERE cycle_id = $1 AND slot = $2 AND day_offset = $3 AND bucket = $4`,
			id, slot, dayOffset, bucket)
		if err != nil {
			return fmt.Errorf("error removing availability: %w", err)
		}
		return nil
	})
}

func (r *PostgresCycleRepository) ListAvailability(ctx context.Context, id uuid.UUID) ([]*cycle.Availability, error) {
	return listAvailability(ctx, r.db, id)
}

func listAvailability(ctx context.Context, q querier, id uuid.UUID) ([]*cycle.Availability, error) {
	query := `SELECT id, cycle_id, slot, day_offset, bucket, created_at
               FROM cycle_availability WHERE cycle_id = $1 ORDER BY slot, day_offset, bucket`
	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("error querying availability: %w", err)
	}
	defer rows.Close()

	avail := make([]*cycle.Availability, 0)
	for rows.Next() {
		a := cycle.Availability{}
		if err := rows.Scan(&a.ID, &a.CycleID, &a.Slot, &a.DayOffset, &a.Bucket, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning availability row: %w", err)
		}
		avail = append(avail, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating availability rows: %w", err)
	}
	return avail, nil
}

// --- Agreement / lifecycle methods ---

func (r *PostgresCycleRepository) FinalizeAgreement(ctx context.Context, id uuid.UUID, itemID string, date time.Time, bucket cycle.TimeBucket) error {
	return r.mutate(ctx, id, ChannelCycleChanged, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE ritual_cycles
               SET agreed_item_id = $1, agreed_date = $2, agreed_bucket = $3
               WHERE id = $4 AND agreed_item_id IS NULL`,
			itemID, date, bucket, id)
		if err != nil {
			return fmt.Errorf("error finalizing agreement: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			if _, getErr := getCycle(ctx, tx, id); getErr != nil {
				return getErr
			}
			return ErrAlreadyAgreed
		}
		return nil
	})
}

func (r *PostgresCycleRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return r.mutate(ctx, id, ChannelCycleChanged, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE ritual_cycles SET completed_at = NOW()
               WHERE id = $1 AND agreed_item_id IS NOT NULL AND completed_at IS NULL`, id)
		if err != nil {
			return fmt.Errorf("error marking cycle completed: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			if _, getErr := getCycle(ctx, tx, id); getErr != nil {
				return getErr
			}
			// Already completed, or not yet agreed. Both are no-ops here.
		}
		return nil
	})
}

func (r *PostgresCycleRepository) ListAwaitingGeneration(ctx context.Context) ([]*cycle.Cycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM ritual_cycles
               WHERE input_one IS NOT NULL AND input_two IS NOT NULL
                 AND artifact IS NULL AND agreed_item_id IS NULL
               ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying cycles awaiting generation: %w", err)
	}
	defer rows.Close()

	cycles := make([]*cycle.Cycle, 0)
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning cycle row: %w", err)
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cycle rows: %w", err)
	}
	return cycles, nil
}

// requireRow converts a zero-rows-affected update into a not-found or
// already-agreed error so invariant violations never pass silently.
func requireRow(ctx context.Context, tx *sql.Tx, res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	c, err := getCycle(ctx, tx, id)
	if err != nil {
		return err
	}
	if c.AgreedItemID.Valid {
		return ErrAlreadyAgreed
	}
	return ErrCycleNotFound
}
