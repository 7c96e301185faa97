package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coophabitat/finance-engine/internal/apperr"
	"github.com/coophabitat/finance-engine/internal/governance/fsm"
)

// Kind distinguishes the two governance workflows sharing the table.
type Kind string

const (
	KindRentToOwn   Kind = "rent_to_own"
	KindSharedSpace Kind = "shared_space"
)

// ErrStaleSnapshot is returned when another writer saved a newer version.
var ErrStaleSnapshot = errors.New("agreement snapshot is stale")

// AgreementRecord is one persisted governance machine.
type AgreementRecord struct {
	ID        string
	Kind      Kind
	ProjectID string
	State     fsm.State
	Final     bool
	// Snapshot is the JSON encoded fsm.Snapshot.
	Snapshot json.RawMessage
	// Running totals are denormalized for reporting.
	TotalPaid   decimal.Decimal
	TotalDue    decimal.Decimal
	Equity      decimal.Decimal
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastEventAt *time.Time
}

// AgreementRepository handles PostgreSQL operations for governance agreements
type AgreementRepository struct {
	db *sql.DB
}

// NewAgreementRepository creates a new AgreementRepository
func NewAgreementRepository(db *sql.DB) *AgreementRepository {
	return &AgreementRepository{db: db}
}

// Money rounds an engine amount to cents for storage.
func Money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

// SaveTransition stores an agreement together with the effects of the
// transition that produced it, in one transaction: either both are written
// or neither is. rec.Version must be the version that was loaded (0 for a
// new agreement); it is incremented on success.
func (r *AgreementRepository) SaveTransition(ctx context.Context, rec *AgreementRecord, from, to fsm.State, effects []fsm.Effect) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if len(rec.Snapshot) == 0 {
		return apperr.InvalidInput("agreement %s has no snapshot", rec.ID)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	next := rec.Version + 1
	createdAt, updatedAt, err := upsertAgreement(ctx, tx, rec, next)
	if err != nil {
		return err
	}
	if err := insertEffects(ctx, tx, rec.ID, from, to, effects); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	rec.Version = next
	rec.CreatedAt = createdAt
	rec.UpdatedAt = updatedAt
	return nil
}

func upsertAgreement(ctx context.Context, tx *sql.Tx, rec *AgreementRecord, next int64) (time.Time, time.Time, error) {
	query := `
		INSERT INTO governance_agreements (
			id, kind, project_id, state, final, snapshot,
			total_paid, total_due, equity, version, last_event_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			final = EXCLUDED.final,
			snapshot = EXCLUDED.snapshot,
			total_paid = EXCLUDED.total_paid,
			total_due = EXCLUDED.total_due,
			equity = EXCLUDED.equity,
			version = EXCLUDED.version,
			last_event_at = EXCLUDED.last_event_at,
			updated_at = NOW()
		WHERE governance_agreements.version = $10 - 1
		RETURNING created_at, updated_at
	`

	var lastEvent sql.NullTime
	if rec.LastEventAt != nil {
		lastEvent = sql.NullTime{Time: *rec.LastEventAt, Valid: true}
	}

	var createdAt, updatedAt time.Time
	err := tx.QueryRowContext(ctx, query,
		rec.ID,
		string(rec.Kind),
		rec.ProjectID,
		string(rec.State),
		rec.Final,
		[]byte(rec.Snapshot),
		rec.TotalPaid,
		rec.TotalDue,
		rec.Equity,
		next,
		lastEvent,
	).Scan(&createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return createdAt, updatedAt, fmt.Errorf("agreement %s version %d: %w", rec.ID, rec.Version, ErrStaleSnapshot)
	}
	if err != nil {
		return createdAt, updatedAt, fmt.Errorf("failed to save agreement: %w", err)
	}
	return createdAt, updatedAt, nil
}

const selectAgreement = `
	SELECT id, kind, project_id, state, final, snapshot,
	       total_paid, total_due, equity, version, created_at, updated_at, last_event_at
	FROM governance_agreements
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgreement(row rowScanner) (*AgreementRecord, error) {
	var rec AgreementRecord
	var kind, state string
	var snapshot []byte
	var lastEvent sql.NullTime

	err := row.Scan(
		&rec.ID,
		&kind,
		&rec.ProjectID,
		&state,
		&rec.Final,
		&snapshot,
		&rec.TotalPaid,
		&rec.TotalDue,
		&rec.Equity,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&lastEvent,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = Kind(kind)
	rec.State = fsm.State(state)
	rec.Snapshot = json.RawMessage(snapshot)
	if lastEvent.Valid {
		t := lastEvent.Time
		rec.LastEventAt = &t
	}
	return &rec, nil
}

// Get retrieves an agreement by id
func (r *AgreementRepository) Get(ctx context.Context, id string) (*AgreementRecord, error) {
	rec, err := scanAgreement(r.db.QueryRowContext(ctx, selectAgreement+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.CodeNotFound, "agreement %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agreement: %w", err)
	}
	return rec, nil
}

// ListOpen returns every agreement of the given kind not yet in a final state
func (r *AgreementRepository) ListOpen(ctx context.Context, kind Kind) ([]AgreementRecord, error) {
	rows, err := r.db.QueryContext(ctx, selectAgreement+` WHERE kind = $1 AND final = FALSE ORDER BY created_at`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list agreements: %w", err)
	}
	defer rows.Close()

	var out []AgreementRecord
	for rows.Next() {
		rec, err := scanAgreement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agreement: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agreements: %w", err)
	}
	return out, nil
}

func insertEffects(ctx context.Context, tx *sql.Tx, agreementID string, from, to fsm.State, effects []fsm.Effect) error {
	if len(effects) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO governance_effects (
			agreement_id, kind, from_state, to_state, data, occurred_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range effects {
		dataJSON, err := json.Marshal(e.Data)
		if err != nil || e.Data == nil {
			dataJSON = []byte("{}")
		}
		at := e.At
		if at.IsZero() {
			at = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, agreementID, e.Kind, string(from), string(to), dataJSON, at); err != nil {
			return fmt.Errorf("failed to insert effect: %w", err)
		}
	}
	return nil
}
