// Package repository stores project snapshots for the pricing engine and
// loads the YAML fixtures used by the worker CLI.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coophabitat/finance-engine/internal/apperr"
)

// ErrStaleProject is returned when the project changed since it was loaded.
var ErrStaleProject = errors.New("project snapshot is stale")

// ProjectSummary is a project listing row.
type ProjectSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	DeedDate  time.Time `json:"deed_date"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ProjectRepository struct {
	db *pgxpool.Pool
}

func NewProjectRepository(db *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Get loads a project snapshot.
func (r *ProjectRepository) Get(ctx context.Context, id string) (*Project, error) {
	const q = `
select data, version, updated_at
from finance_projects
where id = $1;
`
	var (
		data      []byte
		version   int64
		updatedAt time.Time
		p         Project
	)
	err := r.db.QueryRow(ctx, q, id).Scan(&data, &version, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.CodeNotFound, "project %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal project %s: %w", id, err)
	}
	p.Version = version
	p.UpdatedAt = updatedAt
	return &p, nil
}

// Save upserts a project. p.Version must be the loaded version (0 for a new
// project); it is incremented on success.
func (r *ProjectRepository) Save(ctx context.Context, p *Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal project: %w", err)
	}

	const q = `
insert into finance_projects (id, name, deed_date, data, version, updated_at)
values ($1, $2, $3, $4::jsonb, $5, now())
on conflict (id) do update
  set name = excluded.name,
      deed_date = excluded.deed_date,
      data = excluded.data,
      version = excluded.version,
      updated_at = now()
  where finance_projects.version = $5 - 1
returning updated_at;
`
	next := p.Version + 1
	var updatedAt time.Time
	err = r.db.QueryRow(ctx, q, p.ID, p.Name, p.DeedDate.UTC(), string(data), next).Scan(&updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("project %s version %d: %w", p.ID, p.Version, ErrStaleProject)
	}
	if err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	p.Version = next
	p.UpdatedAt = updatedAt
	return nil
}

// List returns every stored project, most recently updated first.
func (r *ProjectRepository) List(ctx context.Context) ([]ProjectSummary, error) {
	const q = `
select id, name, deed_date, version, updated_at
from finance_projects
order by updated_at desc;
`
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	out := make([]ProjectSummary, 0, 16)
	for rows.Next() {
		var s ProjectSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.DeedDate, &s.Version, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes a project. It reports whether a row existed.
func (r *ProjectRepository) Delete(ctx context.Context, id string) (bool, error) {
	ct, err := r.db.Exec(ctx, `delete from finance_projects where id = $1;`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete project: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
