package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/stackhealer/backend-go/internal/domain"
)

// Seed upserts servers and applications from static inventory. Existing
// applications keep their runtime state (health, circuit, timestamps); only
// the configured fields are overwritten.
func Seed(ctx context.Context, s Store, servers []domain.Server, apps []domain.Application) error {
	for i := range servers {
		if err := s.SaveServer(ctx, &servers[i]); err != nil {
			return fmt.Errorf("seed server %s: %w", servers[i].ID, err)
		}
	}

	for i := range apps {
		want := apps[i]
		_, err := s.UpdateApplication(ctx, want.ID, func(app *domain.Application) error {
			app.Name = want.Name
			app.ServerID = want.ServerID
			app.TechStack = want.TechStack
			app.Path = want.Path
			app.URL = want.URL
			app.HealingMode = want.HealingMode
			app.IsHealerEnabled = want.IsHealerEnabled
			return nil
		})
		if errors.Is(err, domain.ErrApplicationNotFound) {
			err = s.SaveApplication(ctx, &want)
		}
		if err != nil {
			return fmt.Errorf("seed application %s: %w", want.ID, err)
		}
	}
	return nil
}
