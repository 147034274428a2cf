package printjobs

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/api/middleware"
	"github.com/angelmondragon/fulfillment-engine/api/responses"
	"github.com/angelmondragon/fulfillment-engine/api/validators"
	printjobsvc "github.com/angelmondragon/fulfillment-engine/internal/printjobs"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

const (
	basePath       = "/api/v1/print-jobs"
	maxClaimParam  = 1000
	maxReasonBytes = 2000
)

// Service is the worker-facing surface of the print queue.
type Service interface {
	Claim(ctx context.Context, workerID string, limit int) ([]printjobsvc.ClaimedJob, error)
	Download(ctx context.Context, jobID uuid.UUID, workerID string) (*printjobsvc.File, error)
	Metadata(ctx context.Context, jobID uuid.UUID, workerID string) (*printjobsvc.File, error)
	AckDownloaded(ctx context.Context, jobID uuid.UUID, workerID string) (*models.PrintJob, error)
	MarkPrinted(ctx context.Context, jobID uuid.UUID, workerID string) (*models.PrintJob, error)
	ReportFailure(ctx context.Context, jobID uuid.UUID, workerID, reason string) (*models.PrintJob, error)
}

type claimedJob struct {
	JobID       uuid.UUID `json:"job_id"`
	OrderID     uuid.UUID `json:"order_id"`
	DownloadURL string    `json:"download_url"`
	MetadataURL string    `json:"metadata_url"`
	ClaimedAt   time.Time `json:"claimed_at"`
}

type jobState struct {
	JobID  uuid.UUID `json:"job_id"`
	Status string    `json:"status"`
}

type failureRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

// Claim leases up to ?limit queued jobs to the calling worker. An empty list
// is a normal answer when the queue is drained or other workers won the rows.
func Claim(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", 0, 0, maxClaimParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		jobs, err := svc.Claim(r.Context(), middleware.WorkerIDFromContext(r.Context()), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]claimedJob, 0, len(jobs))
		for _, job := range jobs {
			out = append(out, claimedJob{
				JobID:       job.JobID,
				OrderID:     job.OrderID,
				DownloadURL: fmt.Sprintf("%s/%s/artifact", basePath, job.JobID),
				MetadataURL: fmt.Sprintf("%s/%s/metadata", basePath, job.JobID),
				ClaimedAt:   job.ClaimedAt,
			})
		}
		responses.WriteSuccess(w, map[string]any{"jobs": out})
	}
}

func Artifact(svc Service, logg *logger.Logger) http.HandlerFunc {
	return serveFile(svc.Download, logg)
}

func Metadata(svc Service, logg *logger.Logger) http.HandlerFunc {
	return serveFile(svc.Metadata, logg)
}

func Downloaded(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := jobIDParam(w, r, logg)
		if !ok {
			return
		}
		job, err := svc.AckDownloaded(r.Context(), jobID, middleware.WorkerIDFromContext(r.Context()))
		writeState(w, r, logg, job, err)
	}
}

func Printed(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := jobIDParam(w, r, logg)
		if !ok {
			return
		}
		job, err := svc.MarkPrinted(r.Context(), jobID, middleware.WorkerIDFromContext(r.Context()))
		writeState(w, r, logg, job, err)
	}
}

func Failed(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := jobIDParam(w, r, logg)
		if !ok {
			return
		}
		var payload failureRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason := validators.SanitizeString(payload.Reason, maxReasonBytes)
		job, err := svc.ReportFailure(r.Context(), jobID, middleware.WorkerIDFromContext(r.Context()), reason)
		writeState(w, r, logg, job, err)
	}
}

func serveFile(fetch func(context.Context, uuid.UUID, string) (*printjobsvc.File, error), logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := jobIDParam(w, r, logg)
		if !ok {
			return
		}
		file, err := fetch(r.Context(), jobID, middleware.WorkerIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteFile(w, file.ContentType, file.Data)
	}
}

func jobIDParam(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
	id, err := validators.ParsePathUUID(r, "jobId")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, false
	}
	return id, true
}

func writeState(w http.ResponseWriter, r *http.Request, logg *logger.Logger, job *models.PrintJob, err error) {
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, jobState{JobID: job.ID, Status: string(job.Status)})
}
