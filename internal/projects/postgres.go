package projects

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/wizard"
)

const projectQuery = `
SELECT id::text, user_id::text, COALESCE(name, ''), is_completed, wizard_data, updated_at
FROM projects
WHERE id::text = $1 AND user_id::text = $2;
`

// PostgresProvider reads projects from the application database.
type PostgresProvider struct {
	pool *pgxpool.Pool
}

// ConnectPostgres opens a pool and verifies it with a ping.
func ConnectPostgres(ctx context.Context, databaseURL string) (*PostgresProvider, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to project database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping project database: %w", err)
	}
	return &PostgresProvider{pool: pool}, nil
}

// Close closes the connection pool.
func (p *PostgresProvider) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Ping reports database reachability for health checks.
func (p *PostgresProvider) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *PostgresProvider) GetProject(ctx context.Context, projectID, userID string) (*Project, error) {
	var (
		proj Project
		raw  []byte
	)
	err := p.pool.QueryRow(ctx, projectQuery, projectID, userID).Scan(
		&proj.ID,
		&proj.UserID,
		&proj.Name,
		&proj.IsCompleted,
		&raw,
		&proj.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(projectID)
	}
	if err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryExternalService, "project lookup failed").
			Retryable().
			WithContext("project_id", projectID).Build()
	}
	proj.WizardData = wizard.Data{}
	if len(raw) > 0 {
		data, err := wizard.Parse(raw)
		if err != nil {
			return nil, derrors.WrapError(err, derrors.CategoryStorage, "stored wizard data is malformed").
				WithContext("project_id", projectID).Build()
		}
		proj.WizardData = data
	}
	return &proj, nil
}
