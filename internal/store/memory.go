package store

import (
	"context"
	"sort"
	"sync"

	"github.com/stackhealer/backend-go/internal/domain"
)

const maxDiagnosesPerApp = 100

// Memory is an in-process Store used when no database is configured and in tests
type Memory struct {
	mu        sync.RWMutex
	apps      map[string]domain.Application
	servers   map[string]domain.Server
	diagnoses map[string][]domain.DiagnosisRecord
	backups   map[string]domain.BackupRecord
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		apps:      make(map[string]domain.Application),
		servers:   make(map[string]domain.Server),
		diagnoses: make(map[string][]domain.DiagnosisRecord),
		backups:   make(map[string]domain.BackupRecord),
	}
}

func (m *Memory) Close() {}

func (m *Memory) GetApplication(_ context.Context, id string) (*domain.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, domain.ErrApplicationNotFound
	}
	return cloneApp(app), nil
}

func (m *Memory) ListApplications(_ context.Context) ([]domain.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Application, 0, len(m.apps))
	for _, a := range m.apps {
		out = append(out, *cloneApp(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveApplication(_ context.Context, app *domain.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps[app.ID] = *cloneApp(*app)
	return nil
}

func (m *Memory) UpdateApplication(_ context.Context, id string, fn func(app *domain.Application) error) (*domain.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.apps[id]
	if !ok {
		return nil, domain.ErrApplicationNotFound
	}
	app := cloneApp(current)
	if err := fn(app); err != nil {
		return nil, err
	}
	m.apps[id] = *cloneApp(*app)
	return app, nil
}

func (m *Memory) GetServer(_ context.Context, id string) (*domain.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[id]
	if !ok {
		return nil, domain.ErrServerNotFound
	}
	return &s, nil
}

func (m *Memory) ListServers(_ context.Context) ([]domain.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Server, 0, len(m.servers))
	for _, s := range m.servers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveServer(_ context.Context, server *domain.Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers[server.ID] = *server
	return nil
}

func (m *Memory) AppendDiagnosis(_ context.Context, rec *domain.DiagnosisRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.diagnoses[rec.ApplicationID], *rec)
	if len(list) > maxDiagnosesPerApp {
		list = list[len(list)-maxDiagnosesPerApp:]
	}
	m.diagnoses[rec.ApplicationID] = list
	return nil
}

func (m *Memory) ListDiagnoses(_ context.Context, applicationID string, limit int) ([]domain.DiagnosisRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.diagnoses[applicationID]
	out := make([]domain.DiagnosisRecord, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, list[i])
	}
	return out, nil
}

func (m *Memory) SaveBackup(_ context.Context, rec *domain.BackupRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backups[rec.ID] = *rec
	return nil
}

func (m *Memory) GetBackup(_ context.Context, id string) (*domain.BackupRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.backups[id]
	if !ok {
		return nil, domain.ErrBackupNotFound
	}
	return &rec, nil
}

func (m *Memory) ListBackups(_ context.Context, applicationID string) ([]domain.BackupRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.BackupRecord
	for _, rec := range m.backups {
		if rec.ApplicationID == applicationID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func cloneApp(a domain.Application) *domain.Application {
	c := a
	if a.CircuitResetAt != nil {
		t := *a.CircuitResetAt
		c.CircuitResetAt = &t
	}
	if a.LastDiagnosedAt != nil {
		t := *a.LastDiagnosedAt
		c.LastDiagnosedAt = &t
	}
	if a.LastHealedAt != nil {
		t := *a.LastHealedAt
		c.LastHealedAt = &t
	}
	return &c
}
