package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hellocng/deepstack-sub002/common/db"
	"github.com/hellocng/deepstack-sub002/common/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const entryColumns = `id, room_id, game_id, player_id, position, status,
	called_in_at, notified_at, seated_at, cancelled_at, cancelled_by,
	version, created_at, updated_at`

// constraintActivePlayer is the partial unique index on active (room, game, player)
const constraintActivePlayer = "waitlist_entry_active_player"

// querier is satisfied by both the pool and a pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EntryRepository handles database operations for waitlist entries
type EntryRepository struct {
	db *db.DB
}

// NewEntryRepository creates a new entry repository
func NewEntryRepository(db *db.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

// Get retrieves an entry by id outside any transaction
func (r *EntryRepository) Get(ctx context.Context, id string) (*models.WaitlistEntry, error) {
	return getEntry(ctx, r.db, id)
}

// ListActiveByPartition lists a partition's queue outside any transaction
func (r *EntryRepository) ListActiveByPartition(ctx context.Context, p models.Partition) ([]*models.WaitlistEntry, error) {
	return listActive(ctx, r.db, p)
}

// InTx runs fn in a read-committed transaction
func (r *EntryRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx EntryTx) error) error {
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &entryTx{q: tx, locked: make(map[string]bool)})
	})
	return classifyError(err)
}

// ListEvents returns an entry's history in seq order
func (r *EntryRepository) ListEvents(ctx context.Context, entryID string) ([]*models.EntryEvent, error) {
	id, err := uuid.Parse(entryID)
	if err != nil {
		return nil, ErrEntryNotFound
	}

	query := `
		SELECT id, entry_id, seq, action, actor, patch, created_at
		FROM waitlist_event
		WHERE entry_id = $1
		ORDER BY seq ASC
	`

	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list entry events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.EntryEvent, 0)
	for rows.Next() {
		var entryUUID uuid.UUID
		var action string
		var patch []byte
		ev := &models.EntryEvent{}
		if err := rows.Scan(
			&ev.ID,
			&entryUUID,
			&ev.Seq,
			&action,
			&ev.Actor,
			&patch,
			&ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan entry event: %w", err)
		}
		ev.EntryID = entryUUID.String()
		ev.Action = models.EntryAction(action)
		ev.Patch = patch
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entry events: %w", err)
	}

	return events, nil
}

// ListByStatus returns up to limit entries in status after the cursor,
// least recently updated first
func (r *EntryRepository) ListByStatus(ctx context.Context, status models.EntryStatus, after *StatusCursor, limit int) ([]*models.WaitlistEntry, error) {
	if after == nil {
		after = &StatusCursor{}
	}

	query := `
		SELECT ` + entryColumns + `
		FROM waitlist_entry
		WHERE status = $1 AND (updated_at, id::text) > ($2, $3)
		ORDER BY updated_at ASC, id::text ASC
		LIMIT $4
	`

	rows, err := r.db.Query(ctx, query, string(status), after.UpdatedAt, after.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries by status: %w", err)
	}
	return collectEntries(rows)
}

// entryTx binds the store operations to one pgx transaction
type entryTx struct {
	q      querier
	locked map[string]bool
}

func (t *entryTx) Get(ctx context.Context, id string) (*models.WaitlistEntry, error) {
	return getEntry(ctx, t.q, id)
}

// ListActiveByPartition takes the partition's transaction lock before reading,
// so the read sees every commit that happened before the lock was granted.
// Callers lock the partition before writing rows in it to keep lock order stable.
func (t *entryTx) ListActiveByPartition(ctx context.Context, p models.Partition) ([]*models.WaitlistEntry, error) {
	key := p.Key()
	if !t.locked[key] {
		if _, err := t.q.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "waitlist:"+key,
		); err != nil {
			return nil, fmt.Errorf("failed to lock partition %s: %w", key, err)
		}
		t.locked[key] = true
	}
	return listActive(ctx, t.q, p)
}

func (t *entryTx) Insert(ctx context.Context, entry *models.WaitlistEntry) (*models.WaitlistEntry, error) {
	id, err := uuid.Parse(entry.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid entry id %q: %w", entry.ID, err)
	}

	query := `
		INSERT INTO waitlist_entry (id, room_id, game_id, player_id, position, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $7)
		RETURNING version, created_at, updated_at
	`

	created := entry.Clone()
	err = t.q.QueryRow(ctx, query,
		id,
		entry.RoomID,
		entry.GameID,
		entry.PlayerID,
		entry.Position,
		string(entry.Status),
		entry.CreatedAt,
	).Scan(&created.Version, &created.CreatedAt, &created.UpdatedAt)

	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to insert entry: %w", err))
	}

	return created, nil
}

func (t *entryTx) ConditionalUpdate(ctx context.Context, id string, expectedVersion int64, u models.EntryUpdate) (bool, error) {
	entryID, err := uuid.Parse(id)
	if err != nil {
		return false, nil
	}

	query := `
		UPDATE waitlist_entry
		SET position     = COALESCE($3, position),
		    status       = COALESCE($4, status),
		    called_in_at = COALESCE($5, called_in_at),
		    notified_at  = COALESCE($6, notified_at),
		    seated_at    = COALESCE($7, seated_at),
		    cancelled_at = COALESCE($8, cancelled_at),
		    cancelled_by = COALESCE($9, cancelled_by),
		    updated_at   = $10,
		    version      = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version
	`

	var status *string
	if u.Status != nil {
		s := string(*u.Status)
		status = &s
	}

	var newVersion int64
	err = t.q.QueryRow(ctx, query,
		entryID,
		expectedVersion,
		u.Position,
		status,
		u.CalledInAt,
		u.NotifiedAt,
		u.SeatedAt,
		u.CancelledAt,
		u.CancelledBy,
		u.UpdatedAt,
	).Scan(&newVersion)

	if errors.Is(err, pgx.ErrNoRows) {
		// Version mismatch or entry gone
		return false, nil
	}
	if err != nil {
		return false, classifyError(fmt.Errorf("failed to update entry: %w", err))
	}

	return true, nil
}

func (t *entryTx) AppendEvent(ctx context.Context, event *models.EntryEvent) error {
	entryID, err := uuid.Parse(event.EntryID)
	if err != nil {
		return fmt.Errorf("invalid entry id %q: %w", event.EntryID, err)
	}

	query := `
		INSERT INTO waitlist_event (entry_id, seq, action, actor, patch, created_at)
		SELECT $1::uuid, COALESCE(MAX(seq), 0) + 1, $2::text, $3::text, $4::jsonb, $5::timestamptz
		FROM waitlist_event
		WHERE entry_id = $1::uuid
		RETURNING id, seq
	`

	err = t.q.QueryRow(ctx, query,
		entryID,
		string(event.Action),
		event.Actor,
		[]byte(event.Patch),
		event.CreatedAt,
	).Scan(&event.ID, &event.Seq)

	if err != nil {
		return classifyError(fmt.Errorf("failed to append entry event: %w", err))
	}

	return nil
}

func getEntry(ctx context.Context, q querier, id string) (*models.WaitlistEntry, error) {
	entryID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrEntryNotFound
	}

	query := `
		SELECT ` + entryColumns + `
		FROM waitlist_entry
		WHERE id = $1
	`

	entry, err := scanEntry(q.QueryRow(ctx, query, entryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}

	return entry, nil
}

func listActive(ctx context.Context, q querier, p models.Partition) ([]*models.WaitlistEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM waitlist_entry
		WHERE room_id = $1 AND game_id = $2
		  AND status IN ('waiting', 'calledin', 'notified')
		ORDER BY position ASC, created_at ASC, id ASC
	`

	rows, err := q.Query(ctx, query, p.RoomID, p.GameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list partition %s: %w", p.Key(), err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]*models.WaitlistEntry, error) {
	defer rows.Close()

	entries := make([]*models.WaitlistEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}

	return entries, nil
}

func scanEntry(row pgx.Row) (*models.WaitlistEntry, error) {
	var id uuid.UUID
	var status string
	entry := &models.WaitlistEntry{}

	err := row.Scan(
		&id,
		&entry.RoomID,
		&entry.GameID,
		&entry.PlayerID,
		&entry.Position,
		&status,
		&entry.CalledInAt,
		&entry.NotifiedAt,
		&entry.SeatedAt,
		&entry.CancelledAt,
		&entry.CancelledBy,
		&entry.Version,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.ID = id.String()
	entry.Status = models.EntryStatus(status)
	return entry, nil
}

// classifyError maps pg constraint and serialization failures onto store sentinels
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case "23505":
		if pgErr.ConstraintName == constraintActivePlayer {
			return fmt.Errorf("%w: %s", ErrDuplicateActive, pgErr.Detail)
		}
		return fmt.Errorf("%w: %s", ErrVersionConflict, pgErr.ConstraintName)
	case "23P01":
		// Deferred check on waitlist_entry_active_position fires at commit
		return fmt.Errorf("%w: %s", ErrVersionConflict, pgErr.ConstraintName)
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", ErrVersionConflict, pgErr.Message)
	}

	return err
}
