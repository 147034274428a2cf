package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

// MaybeRunDev applies the embedded migrations at boot when running in dev with
// FULFILLMENT_AUTO_MIGRATE set. Other environments migrate through cmd/migrate.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	before, err := CurrentVersion(ctx, sqlDB)
	if err != nil {
		return err
	}

	started := time.Now()
	if err := Run(ctx, sqlDB, "", "up"); err != nil {
		return err
	}

	after, err := CurrentVersion(ctx, sqlDB)
	if err != nil {
		return err
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"from_version": before,
		"to_version":   after,
		"duration_ms":  time.Since(started).Milliseconds(),
	})
	if before == after {
		logg.Debug(ctx, "schema already current")
		return nil
	}
	logg.Info(ctx, "applied dev migrations")
	return nil
}
