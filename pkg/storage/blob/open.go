package blob

import (
	"context"
	"fmt"

	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/storage"
	"github.com/angelmondragon/fulfillment-engine/pkg/storage/gcs"
	"github.com/angelmondragon/fulfillment-engine/pkg/storage/local"
)

// Open returns the artifact store selected by FULFILLMENT_STORAGE_DRIVER.
func Open(ctx context.Context, cfg *config.Config, logg *logger.Logger) (storage.Store, error) {
	if cfg.Storage.UsesGCS() {
		client, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap gcs: %w", err)
		}
		return client, nil
	}
	store, err := local.New(cfg.Storage.LocalRoot)
	if err != nil {
		return nil, err
	}
	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("local artifact store at %s", cfg.Storage.LocalRoot))
	}
	return store, nil
}
