package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stackhealer/backend-go/internal/domain"
)

// Postgres is a Store backed by a pgx connection pool
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an established pool; the schema must already be applied
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Close() { p.pool.Close() }

const appColumns = `id, name, server_id, tech_stack, path, url, healing_mode, is_healer_enabled,
	health_score, health_status, circuit_breaker_state, consecutive_failures,
	circuit_breaker_reset_at, last_diagnosed_at, last_healed_at`

func scanApp(row pgx.Row) (*domain.Application, error) {
	var a domain.Application
	err := row.Scan(&a.ID, &a.Name, &a.ServerID, &a.TechStack, &a.Path, &a.URL, &a.HealingMode,
		&a.IsHealerEnabled, &a.HealthScore, &a.HealthStatus, &a.CircuitState, &a.ConsecutiveFailures,
		&a.CircuitResetAt, &a.LastDiagnosedAt, &a.LastHealedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *Postgres) GetApplication(ctx context.Context, id string) (*domain.Application, error) {
	app, err := scanApp(p.pool.QueryRow(ctx, `SELECT `+appColumns+` FROM applications WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrApplicationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}
	return app, nil
}

func (p *Postgres) ListApplications(ctx context.Context) ([]domain.Application, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+appColumns+` FROM applications ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var out []domain.Application
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		out = append(out, *app)
	}
	return out, rows.Err()
}

const upsertApp = `INSERT INTO applications (` + appColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name, server_id = EXCLUDED.server_id, tech_stack = EXCLUDED.tech_stack,
		path = EXCLUDED.path, url = EXCLUDED.url, healing_mode = EXCLUDED.healing_mode,
		is_healer_enabled = EXCLUDED.is_healer_enabled, health_score = EXCLUDED.health_score,
		health_status = EXCLUDED.health_status, circuit_breaker_state = EXCLUDED.circuit_breaker_state,
		consecutive_failures = EXCLUDED.consecutive_failures,
		circuit_breaker_reset_at = EXCLUDED.circuit_breaker_reset_at,
		last_diagnosed_at = EXCLUDED.last_diagnosed_at, last_healed_at = EXCLUDED.last_healed_at`

func appArgs(a *domain.Application) []any {
	return []any{a.ID, a.Name, a.ServerID, a.TechStack, a.Path, a.URL, a.HealingMode, a.IsHealerEnabled,
		a.HealthScore, a.HealthStatus, a.CircuitState, a.ConsecutiveFailures,
		a.CircuitResetAt, a.LastDiagnosedAt, a.LastHealedAt}
}

func (p *Postgres) SaveApplication(ctx context.Context, app *domain.Application) error {
	if _, err := p.pool.Exec(ctx, upsertApp, appArgs(app)...); err != nil {
		return fmt.Errorf("save application: %w", err)
	}
	return nil
}

// UpdateApplication locks the row for the duration of fn
func (p *Postgres) UpdateApplication(ctx context.Context, id string, fn func(app *domain.Application) error) (*domain.Application, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	app, err := scanApp(tx.QueryRow(ctx, `SELECT `+appColumns+` FROM applications WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrApplicationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock application: %w", err)
	}

	if err := fn(app); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, upsertApp, appArgs(app)...); err != nil {
		return nil, fmt.Errorf("update application: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return app, nil
}

const serverColumns = `id, name, host, port, username, transport, namespace, pod, instance_id`

func scanServer(row pgx.Row) (*domain.Server, error) {
	var s domain.Server
	if err := row.Scan(&s.ID, &s.Name, &s.Host, &s.Port, &s.Username, &s.Transport,
		&s.Namespace, &s.Pod, &s.InstanceID); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *Postgres) GetServer(ctx context.Context, id string) (*domain.Server, error) {
	s, err := scanServer(p.pool.QueryRow(ctx, `SELECT `+serverColumns+` FROM servers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrServerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get server: %w", err)
	}
	return s, nil
}

func (p *Postgres) ListServers(ctx context.Context) ([]domain.Server, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var out []domain.Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveServer(ctx context.Context, s *domain.Server) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO servers (`+serverColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, host = EXCLUDED.host, port = EXCLUDED.port,
			username = EXCLUDED.username, transport = EXCLUDED.transport,
			namespace = EXCLUDED.namespace, pod = EXCLUDED.pod, instance_id = EXCLUDED.instance_id`,
		s.ID, s.Name, s.Host, s.Port, s.Username, s.Transport, s.Namespace, s.Pod, s.InstanceID)
	if err != nil {
		return fmt.Errorf("save server: %w", err)
	}
	return nil
}

func (p *Postgres) AppendDiagnosis(ctx context.Context, rec *domain.DiagnosisRecord) error {
	results, err := json.Marshal(rec.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	_, err = p.pool.Exec(ctx, `INSERT INTO diagnoses (id, application_id, results, health_score, health_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.ApplicationID, results, rec.HealthScore, rec.HealthStatus, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append diagnosis: %w", err)
	}
	return nil
}

func (p *Postgres) ListDiagnoses(ctx context.Context, applicationID string, limit int) ([]domain.DiagnosisRecord, error) {
	if limit <= 0 {
		limit = maxDiagnosesPerApp
	}
	rows, err := p.pool.Query(ctx, `SELECT id, application_id, results, health_score, health_status, created_at
		FROM diagnoses WHERE application_id = $1 ORDER BY created_at DESC LIMIT $2`, applicationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list diagnoses: %w", err)
	}
	defer rows.Close()

	var out []domain.DiagnosisRecord
	for rows.Next() {
		var rec domain.DiagnosisRecord
		var raw []byte
		if err := rows.Scan(&rec.ID, &rec.ApplicationID, &raw, &rec.HealthScore, &rec.HealthStatus, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan diagnosis: %w", err)
		}
		if err := json.Unmarshal(raw, &rec.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const backupColumns = `id, application_id, action_name, location, strategy, size_bytes, success, error, created_at`

func scanBackup(row pgx.Row) (*domain.BackupRecord, error) {
	var b domain.BackupRecord
	if err := row.Scan(&b.ID, &b.ApplicationID, &b.ActionName, &b.Location, &b.Strategy,
		&b.SizeBytes, &b.Success, &b.Error, &b.CreatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (p *Postgres) SaveBackup(ctx context.Context, b *domain.BackupRecord) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO backups (`+backupColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			location = EXCLUDED.location, size_bytes = EXCLUDED.size_bytes,
			success = EXCLUDED.success, error = EXCLUDED.error`,
		b.ID, b.ApplicationID, b.ActionName, b.Location, b.Strategy, b.SizeBytes, b.Success, b.Error, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("save backup: %w", err)
	}
	return nil
}

func (p *Postgres) GetBackup(ctx context.Context, id string) (*domain.BackupRecord, error) {
	b, err := scanBackup(p.pool.QueryRow(ctx, `SELECT `+backupColumns+` FROM backups WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBackupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get backup: %w", err)
	}
	return b, nil
}

func (p *Postgres) ListBackups(ctx context.Context, applicationID string) ([]domain.BackupRecord, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+backupColumns+` FROM backups
		WHERE application_id = $1 ORDER BY created_at DESC, id`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var out []domain.BackupRecord
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}
