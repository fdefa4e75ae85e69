package config

import (
	"testing"

	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validInventory = `
servers:
  - id: srv-1
    host: 10.0.0.5
    transport: ssh
    instance_id: i-0abc
  - id: cluster
    transport: k8s
    namespace: shop
    pod: shop-web-0
applications:
  - id: blog
    server: srv-1
    tech_stack: wordpress
    path: /var/www/blog
    url: https://blog.example.com
    healing_mode: SEMI_AUTO
  - id: shop
    server: cluster
    tech_stack: nodejs
    path: /app
    healer_enabled: false
`

func TestParseInventory(t *testing.T) {
	inv, err := ParseInventory([]byte(validInventory))
	require.NoError(t, err)

	servers := inv.DomainServers()
	require.Len(t, servers, 2)
	assert.Equal(t, "srv-1", servers[0].Name)
	assert.Equal(t, "i-0abc", servers[0].InstanceID)
	assert.Equal(t, "shop-web-0", servers[1].Pod)

	apps := inv.DomainApplications()
	require.Len(t, apps, 2)
	assert.Equal(t, domain.HealingModeSemiAuto, apps[0].HealingMode)
	assert.True(t, apps[0].IsHealerEnabled)
	assert.Equal(t, domain.CircuitClosed, apps[0].CircuitState)
	assert.Equal(t, domain.HealthUnknown, apps[0].HealthStatus)
	assert.Equal(t, domain.HealingModeManual, apps[1].HealingMode)
	assert.False(t, apps[1].IsHealerEnabled)
}

func TestParseInventoryValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"server without id", "servers: [{host: a}]", "id is required"},
		{"duplicate server", "servers: [{id: a, transport: local}, {id: a, transport: local}]", "duplicate id"},
		{"ssh without host", "servers: [{id: a, transport: ssh}]", "host is required"},
		{"k8s without pod", "servers: [{id: a, transport: k8s}]", "pod is required"},
		{"unknown transport", "servers: [{id: a, transport: telnet}]", "unknown transport"},
		{"unknown server", "applications: [{id: x, server: nope, tech_stack: wordpress}]", "unknown server"},
		{"missing stack", "servers: [{id: a}]\napplications: [{id: x, server: a}]", "tech_stack is required"},
		{"bad mode", "servers: [{id: a}]\napplications: [{id: x, server: a, tech_stack: laravel, healing_mode: YOLO}]", "invalid healing_mode"},
		{"malformed", "servers: {", "parse inventory file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInventory([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadInventoryEmptyPath(t *testing.T) {
	inv, err := LoadInventory("")
	assert.NoError(t, err)
	assert.Nil(t, inv)
}
