// Package reconciler tracks extraction batches against the remote service.
// Each sweep polls every non-terminal job, folds remote progress into local
// state and hands completed output to the ingestion pipeline exactly once.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"intake/internal/database"
	"intake/internal/ingest"
	"intake/internal/model"
	"intake/pkg/extractor"
	"io"
	"time"

	"github.com/rs/zerolog/log"
)

// RemoteClient is the slice of the extraction service client the
// reconciler needs
type RemoteClient interface {
	GetJobStatus(ctx context.Context, jobID string) (*extractor.JobStatus, error)
	DownloadResult(ctx context.Context, location string) (io.ReadCloser, error)
}

// Ingester runs result ingestion for a completed job
type Ingester interface {
	RunReader(ctx context.Context, jobID string, r io.Reader) (ingest.Stats, []model.JobError, error)
}

// Summary reports the outcome of one reconciliation sweep
type Summary struct {
	Checked   int `json:"checked"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Reconciler polls remote job state and drives local jobs to completion
type Reconciler struct {
	db       database.JobDatabase
	client   RemoteClient
	pipeline Ingester
}

// New creates a reconciler
func New(db database.JobDatabase, client RemoteClient, pipeline Ingester) *Reconciler {
	return &Reconciler{
		db:       db,
		client:   client,
		pipeline: pipeline,
	}
}

// Sweep reconciles every non-terminal job once. Per-job failures are
// recorded against the job and never abort the sweep; the job stays
// eligible for the next pass.
func (r *Reconciler) Sweep(ctx context.Context) (Summary, error) {
	jobs, err := r.db.ListActiveJobs(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("listing active jobs: %w", err)
	}

	summary := Summary{Checked: len(jobs)}
	for _, job := range jobs {
		status, err := r.ReconcileJob(ctx, job)
		if err != nil {
			log.Warn().Err(err).Str("jobID", job.ID).Msg("Job reconciliation pass failed")
			summary.Active++
			continue
		}

		switch status {
		case model.StatusCompleted:
			summary.Completed++
		case model.StatusFailed, model.StatusCancelled:
			summary.Failed++
		default:
			summary.Active++
		}
	}

	log.Info().
		Int("checked", summary.Checked).
		Int("active", summary.Active).
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Msg("Reconciliation sweep finished")

	return summary, nil
}

// ReconcileByID reconciles a single job, used by the webhook path
func (r *Reconciler) ReconcileByID(ctx context.Context, jobID string) (model.JobStatus, error) {
	job, err := r.db.GetJobByID(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Status.Terminal() {
		return job.Status, nil
	}
	return r.ReconcileJob(ctx, job)
}

// ReconcileJob runs one reconciliation pass for one job and returns the
// resulting local status
func (r *Reconciler) ReconcileJob(ctx context.Context, job *model.Job) (model.JobStatus, error) {
	remote, err := r.client.GetJobStatus(ctx, job.ID)
	if err != nil {
		// Transient or fatal alike: record and leave the job for the
		// next pass
		appendErr := r.db.AppendJobErrors(ctx, job.ID, []model.JobError{{
			Message:   fmt.Sprintf("status poll failed: %s", err.Error()),
			Timestamp: time.Now(),
		}})
		if appendErr != nil {
			log.Error().Err(appendErr).Str("jobID", job.ID).Msg("Failed to record poll error")
		}
		return job.Status, err
	}

	mapped, err := MapRemoteState(remote.State)
	if err != nil {
		if errors.Is(err, ErrUnknownRemoteState) {
			appendErr := r.db.AppendJobErrors(ctx, job.ID, []model.JobError{{
				Message:   err.Error(),
				Timestamp: time.Now(),
			}})
			if appendErr != nil {
				log.Error().Err(appendErr).Str("jobID", job.ID).Msg("Failed to record mapping error")
			}
		}
		return job.Status, err
	}

	// Status never moves backward; a remote hiccup reporting "validating"
	// after processing started is ignored.
	if mapped == model.StatusPending && job.Status == model.StatusProcessing {
		mapped = model.StatusProcessing
	}

	counts := job.Counts
	if remote.RequestCounts != nil {
		counts.TotalDocuments = remote.RequestCounts.Total
		counts.Processed = remote.RequestCounts.Completed + remote.RequestCounts.Failed
		counts.Failed = remote.RequestCounts.Failed
		counts.Blocked = remote.RequestCounts.Blocked
	}

	var startedAt *time.Time
	if job.StartedAt == nil && remote.StartedAt != 0 {
		t := time.Unix(remote.StartedAt, 0)
		startedAt = &t
	}

	switch mapped {
	case model.StatusCompleted:
		if remote.RequestCounts == nil {
			// Completed without a progress report: keep polling until the
			// service publishes counts alongside the output.
			log.Warn().Str("jobID", job.ID).Msg("Remote job succeeded without request counts, deferring ingestion")
			return job.Status, r.db.UpdateJobProgress(ctx, job.ID, model.StatusProcessing, counts, startedAt)
		}
		if err := r.db.UpdateJobProgress(ctx, job.ID, job.Status, counts, startedAt); err != nil {
			return job.Status, err
		}
		return r.completeJob(ctx, job.ID, remote.OutputLocation)

	case model.StatusFailed:
		err := r.db.MarkJobFailed(ctx, job.ID, model.JobError{
			Message:   fmt.Sprintf("remote job ended in state %q", remote.State),
			Timestamp: time.Now(),
		})
		return model.StatusFailed, err

	case model.StatusCancelled:
		return model.StatusCancelled, r.db.MarkJobCancelled(ctx, job.ID)

	default:
		return mapped, r.db.UpdateJobProgress(ctx, job.ID, mapped, counts, startedAt)
	}
}

// completeJob claims the completion guard and, when won, runs ingestion.
// An ingestion failure is terminal: the job is marked Failed and is not
// retried automatically, to avoid repeated partial writes.
func (r *Reconciler) completeJob(ctx context.Context, jobID, outputLocation string) (model.JobStatus, error) {
	claimed, err := r.db.ClaimJobCompletion(ctx, jobID, outputLocation)
	if err != nil {
		return "", err
	}
	if !claimed {
		log.Debug().Str("jobID", jobID).Msg("Job completion already claimed")
		return model.StatusCompleted, nil
	}

	result, err := r.client.DownloadResult(ctx, outputLocation)
	if err != nil {
		markErr := r.db.MarkJobFailed(ctx, jobID, model.JobError{
			Message:   fmt.Sprintf("result download failed: %s", err.Error()),
			Timestamp: time.Now(),
		})
		if markErr != nil {
			return "", markErr
		}
		return model.StatusFailed, nil
	}
	defer result.Close()

	stats, jobErrors, err := r.pipeline.RunReader(ctx, jobID, result)
	if err != nil {
		markErr := r.db.MarkJobFailed(ctx, jobID, model.JobError{
			Message:   fmt.Sprintf("ingestion failed: %s", err.Error()),
			Timestamp: time.Now(),
		})
		if markErr != nil {
			return "", markErr
		}
		return model.StatusFailed, nil
	}

	// Error-marker records are already in the remotely-reported failure
	// count; only failures local to ingestion are added here
	if err := r.db.FoldIngestCounts(ctx, jobID, stats.Created, stats.Mismatched, stats.Failed); err != nil {
		return "", err
	}
	if err := r.db.AppendJobErrors(ctx, jobID, jobErrors); err != nil {
		return "", err
	}

	log.Info().
		Str("jobID", jobID).
		Int("created", stats.Created).
		Int("mismatched", stats.Mismatched).
		Int("failed", stats.Failed).
		Msg("Job ingested")

	return model.StatusCompleted, nil
}
