package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stackhealer/backend-go/internal/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, fake *executor.Fake) *Registry {
	t.Helper()
	plugins, err := Builtins(Deps{Executor: fake, BackupDir: "/backups"})
	require.NoError(t, err)

	reg := NewRegistry(zerolog.Nop())
	for _, p := range plugins {
		require.NoError(t, reg.Register(p))
	}
	return reg
}

func TestRegistryGet(t *testing.T) {
	reg := newTestRegistry(t, &executor.Fake{})

	p, err := reg.Get("wordpress")
	require.NoError(t, err)
	assert.Equal(t, "WordPress", p.Name())

	_, err = reg.Get("rails")
	assert.ErrorIs(t, err, domain.ErrPluginNotFound)
	assert.True(t, domain.IsNotFound(err))

	assert.Equal(t, []string{"laravel", "nodejs", "wordpress"}, reg.Tags())
}

func TestRegistryRejectsDuplicateTag(t *testing.T) {
	reg := newTestRegistry(t, &executor.Fake{})
	plugins, err := Builtins(Deps{Executor: &executor.Fake{}})
	require.NoError(t, err)

	err = reg.Register(plugins[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryUnregister(t *testing.T) {
	reg := newTestRegistry(t, &executor.Fake{})

	reg.Unregister("nodejs")
	_, err := reg.Get("nodejs")
	assert.ErrorIs(t, err, domain.ErrPluginNotFound)

	reg.Unregister("nodejs")
	reg.Close()
	assert.Empty(t, reg.Tags())
}

func TestRegistryResolvesBackupsAndActions(t *testing.T) {
	reg := newTestRegistry(t, &executor.Fake{})

	s, err := reg.BackupStrategyFor("laravel")
	require.NoError(t, err)
	assert.Equal(t, "tarball", s.Name())

	actions, err := reg.ActionsFor("nodejs")
	require.NoError(t, err)
	assert.NotEmpty(t, actions)

	_, err = reg.BackupStrategyFor("rails")
	assert.ErrorIs(t, err, domain.ErrPluginNotFound)
	_, err = reg.ActionsFor("rails")
	assert.ErrorIs(t, err, domain.ErrPluginNotFound)
}

type failingPlugin struct {
	*CatalogPlugin
}

func (failingPlugin) OnLoad(zerolog.Logger) error { return errors.New("boom") }

func TestRegistryOnLoadFailure(t *testing.T) {
	plugins, err := Builtins(Deps{Executor: &executor.Fake{}})
	require.NoError(t, err)

	reg := NewRegistry(zerolog.Nop())
	err = reg.Register(failingPlugin{plugins[0].(*CatalogPlugin)})
	require.Error(t, err)
	assert.Empty(t, reg.Tags())
}

func TestDetectAllRanksByConfidence(t *testing.T) {
	fake := &executor.Fake{
		Files: map[string]string{
			"/srv/app/wp-config.php":           "640",
			"/srv/app/wp-includes/version.php": "644",
			"/srv/app/wp-content":              "755",
			"/srv/app/package.json":            "644",
		},
		OnCommand: func(_ *domain.Server, cmd string) (*executor.CommandResult, error) {
			switch {
			case cmd == "node --version":
				return &executor.CommandResult{Success: true, Output: "v20.11.1\n"}, nil
			default:
				return &executor.CommandResult{Success: true, Output: "$wp_version = '6.4.3';"}, nil
			}
		},
	}
	reg := newTestRegistry(t, fake)

	results := reg.DetectAll(context.Background(), &domain.Server{ID: "srv-1"}, "/srv/app")

	require.Len(t, results, 2)
	assert.Equal(t, "wordpress", results[0].TechStack)
	assert.InDelta(t, 1.0, results[0].Confidence, 0.001)
	assert.Equal(t, "6.4.3", results[0].Version)
	assert.Equal(t, "wp-config.php,wp-includes/version.php,wp-content", results[0].Metadata["markers"])

	assert.Equal(t, "nodejs", results[1].TechStack)
	assert.InDelta(t, 0.6, results[1].Confidence, 0.001)
	assert.Equal(t, "20.11.1", results[1].Version)

	assert.True(t, fake.Ran("'/srv/app'/wp-includes/version.php"))
}

func TestDetectAllSkipsFailingPlugins(t *testing.T) {
	reg := newTestRegistry(t, &executor.Fake{Err: domain.ErrTransport})
	assert.Empty(t, reg.DetectAll(context.Background(), &domain.Server{ID: "srv-1"}, "/srv/app"))
}

func TestCatalogPluginChecks(t *testing.T) {
	fake := &executor.Fake{}
	plugins, err := Builtins(Deps{Executor: fake})
	require.NoError(t, err)

	var wp StackPlugin
	for _, p := range plugins {
		if p.Tag() == "wordpress" {
			wp = p
		}
	}
	require.NotNil(t, wp)

	names := map[string]bool{}
	for _, c := range wp.Checks() {
		meta := c.Metadata()
		names[meta.Name] = true
		assert.True(t, meta.AppliesTo("wordpress"), meta.Name)
		assert.False(t, meta.AppliesTo("laravel"), meta.Name)
	}
	for _, want := range []string{"http_availability", "database_connection", "wp_config_permissions"} {
		assert.True(t, names[want], want)
	}
}

func TestHealingActionsReturnsCopy(t *testing.T) {
	plugins, err := Builtins(Deps{Executor: &executor.Fake{}})
	require.NoError(t, err)

	actions := plugins[0].HealingActions()
	actions[0].Name = "mutated"
	assert.NotEqual(t, "mutated", plugins[0].HealingActions()[0].Name)
}

func TestRenderCommand(t *testing.T) {
	app := &domain.Application{Name: "shop", Path: "/var/www/it's"}
	got := RenderCommand("cd {{path}} && echo {{app}}", app)
	assert.Equal(t, `cd '/var/www/it'\''s' && echo 'shop'`, got)
}
