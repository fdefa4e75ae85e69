package store

import (
	"context"
	"testing"

	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedKeepsRuntimeState(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	servers := []domain.Server{{ID: "srv-1", Host: "10.0.0.5", Transport: "ssh"}}
	apps := []domain.Application{{
		ID: "app-1", ServerID: "srv-1", TechStack: "wordpress",
		HealingMode: domain.HealingModeManual, IsHealerEnabled: true,
		HealthStatus: domain.HealthUnknown, CircuitState: domain.CircuitClosed,
	}}
	require.NoError(t, Seed(ctx, m, servers, apps))

	_, err := m.UpdateApplication(ctx, "app-1", func(app *domain.Application) error {
		app.CircuitState = domain.CircuitOpen
		app.ConsecutiveFailures = 5
		return nil
	})
	require.NoError(t, err)

	apps[0].HealingMode = domain.HealingModeFullAuto
	require.NoError(t, Seed(ctx, m, servers, apps))

	got, err := m.GetApplication(ctx, "app-1")
	require.NoError(t, err)
	assert.Equal(t, domain.HealingModeFullAuto, got.HealingMode)
	assert.Equal(t, domain.CircuitOpen, got.CircuitState)
	assert.Equal(t, 5, got.ConsecutiveFailures)

	list, _ := m.ListServers(ctx)
	assert.Len(t, list, 1)
}
