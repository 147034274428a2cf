package deliverables

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	"github.com/angelmondragon/fulfillment-engine/pkg/storage"
)

// Generator produces the artifact for one job and returns its storage key.
type Generator interface {
	Generate(ctx context.Context, job *models.DeliverableJob) (string, error)
}

type propertyReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Property, error)
}

// ResultKey is where a job's artifact is stored.
func ResultKey(jobID uuid.UUID) string {
	return "deliverables/" + jobID.String() + "/listing-kit.zip"
}

type manifest struct {
	JobID       uuid.UUID             `json:"job_id"`
	Kind        enums.DeliverableKind `json:"kind"`
	UserID      uuid.UUID             `json:"user_id"`
	PropertyID  uuid.UUID             `json:"property_id"`
	GeneratedAt time.Time             `json:"generated_at"`
	Files       []string              `json:"files"`
}

type propertySummary struct {
	ID      uuid.UUID `json:"id"`
	Address string    `json:"address"`
	Path    string    `json:"path"`
}

// ListingKitGenerator writes a ZIP with a manifest and a property summary.
type ListingKitGenerator struct {
	store      storage.Store
	properties propertyReader
	now        func() time.Time
}

func NewListingKitGenerator(store storage.Store, properties propertyReader) *ListingKitGenerator {
	return &ListingKitGenerator{
		store:      store,
		properties: properties,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (g *ListingKitGenerator) Generate(ctx context.Context, job *models.DeliverableJob) (string, error) {
	if job.Kind != enums.DeliverableKindListingKit {
		return "", fmt.Errorf("unsupported deliverable kind %q", job.Kind)
	}
	property, err := g.properties.FindByID(ctx, job.PropertyID)
	if err != nil {
		return "", fmt.Errorf("load property %s: %w", job.PropertyID, err)
	}

	summary := propertySummary{
		ID:      property.ID,
		Address: property.Address,
		Path:    "/p/" + property.ID.String(),
	}
	files := []string{"manifest.json", "property.json", "README.txt"}
	man := manifest{
		JobID:       job.ID,
		Kind:        job.Kind,
		UserID:      job.UserID,
		PropertyID:  job.PropertyID,
		GeneratedAt: g.now(),
		Files:       files,
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if err := writeJSON(zw, "manifest.json", man); err != nil {
		return "", err
	}
	if err := writeJSON(zw, "property.json", summary); err != nil {
		return "", err
	}
	readme := fmt.Sprintf("Listing kit for %s\nProperty page: %s\nGenerated: %s\n",
		property.Address, summary.Path, man.GeneratedAt.Format(time.RFC3339))
	w, err := zw.Create("README.txt")
	if err != nil {
		return "", err
	}
	if _, err := w.Write([]byte(readme)); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}

	key := ResultKey(job.ID)
	if err := g.store.Put(ctx, key, buf.Bytes(), "application/zip"); err != nil {
		return "", fmt.Errorf("store listing kit: %w", err)
	}
	return key, nil
}

func writeJSON(zw *zip.Writer, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
