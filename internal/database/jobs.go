package database

import (
	"context"
	"errors"
	"intake/internal/model"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// JobDatabase defines job-related database operations
type JobDatabase interface {
	// Create a new job record for a submitted batch
	CreateJob(ctx context.Context, job *model.Job) error

	// Get a job by its remote id
	GetJobByID(ctx context.Context, id string) (*model.Job, error)

	// List jobs eligible for reconciliation (non-terminal statuses)
	ListActiveJobs(ctx context.Context) ([]*model.Job, error)

	// List jobs newest-first for display
	ListJobs(ctx context.Context, limit int) ([]*model.Job, error)

	// Update status, progress counters and started time from a remote
	// report. No-op once the job reached a terminal status.
	UpdateJobProgress(ctx context.Context, id string, status model.JobStatus, counts model.JobCounts, startedAt *time.Time) error

	// ClaimJobCompletion atomically transitions a non-terminal job to
	// Completed, setting completed_at only if it was still unset. Returns
	// false when another sweep already claimed the job.
	ClaimJobCompletion(ctx context.Context, id string, outputLocation string) (bool, error)

	// MarkJobFailed forces a job into the terminal Failed state, recording
	// the error and setting completed_at if still unset
	MarkJobFailed(ctx context.Context, id string, jobErr model.JobError) error

	// MarkJobCancelled moves a job into the terminal Cancelled state,
	// setting completed_at if still unset
	MarkJobCancelled(ctx context.Context, id string) error

	// AppendJobErrors pushes structured errors onto the job's error list
	AppendJobErrors(ctx context.Context, id string, errs []model.JobError) error

	// FoldIngestCounts adds ingestion results into the job counters
	FoldIngestCounts(ctx context.Context, id string, succeeded, mismatched, failed int) error

	// AddRetryBookkeeping increments the retry counters after a document
	// finished its mismatch retry cycle
	AddRetryBookkeeping(ctx context.Context, id string, attempts int, retriedDocs int) error
}

// CreateJob creates a new job record in the database
func (m *mongoDB) CreateJob(ctx context.Context, job *model.Job) error {
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	if job.Status == "" {
		job.Status = model.StatusPending
	}
	if job.Errors == nil {
		job.Errors = []model.JobError{}
	}

	_, err := m.jobsCol.InsertOne(ctx, job)
	if err != nil {
		log.Error().Err(err).Str("jobID", job.ID).Msg("Failed to create job")
		return err
	}

	log.Debug().Str("jobID", job.ID).Msg("Created new job")
	return nil
}

// GetJobByID retrieves a job by its remote id
func (m *mongoDB) GetJobByID(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	err := m.jobsCol.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrJobNotFound
		}
		log.Error().Err(err).Str("jobID", id).Msg("Failed to get job")
		return nil, err
	}

	return &job, nil
}

// ListActiveJobs returns all jobs still eligible for reconciliation
func (m *mongoDB) ListActiveJobs(ctx context.Context) ([]*model.Job, error) {
	filter := bson.M{"status": bson.M{"$in": model.NonTerminalStatuses}}

	cursor, err := m.jobsCol.Find(ctx, filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list active jobs")
		return nil, err
	}
	defer cursor.Close(ctx)

	var jobs []*model.Job
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, err
	}

	return jobs, nil
}

// ListJobs returns jobs newest-first, capped at limit
func (m *mongoDB) ListJobs(ctx context.Context, limit int) ([]*model.Job, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := m.jobsCol.Find(ctx, bson.M{}, opts)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list jobs")
		return nil, err
	}
	defer cursor.Close(ctx)

	var jobs []*model.Job
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, err
	}

	return jobs, nil
}

// UpdateJobProgress folds a remote progress report into the local job. The
// filter only matches non-terminal jobs so a stale concurrent sweep can
// never regress a job that already finished.
func (m *mongoDB) UpdateJobProgress(ctx context.Context, id string, status model.JobStatus, counts model.JobCounts, startedAt *time.Time) error {
	set := bson.M{
		"status":     status,
		"counts":     counts,
		"updated_at": time.Now(),
	}
	if startedAt != nil {
		set["started_at"] = *startedAt
	}

	filter := bson.M{"_id": id, "status": bson.M{"$in": model.NonTerminalStatuses}}
	_, err := m.jobsCol.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		log.Error().Err(err).Str("jobID", id).Str("status", string(status)).Msg("Failed to update job progress")
		return err
	}

	log.Debug().Str("jobID", id).Str("status", string(status)).Msg("Updated job progress")
	return nil
}

// ClaimJobCompletion performs the atomic completion guard. The filter only
// matches while completed_at is unset and the status is non-terminal, so
// concurrent sweeps cannot both claim the same job.
func (m *mongoDB) ClaimJobCompletion(ctx context.Context, id string, outputLocation string) (bool, error) {
	now := time.Now()
	filter := bson.M{
		"_id":          id,
		"completed_at": nil,
		"status":       bson.M{"$in": model.NonTerminalStatuses},
	}
	update := bson.M{
		"$set": bson.M{
			"status":          model.StatusCompleted,
			"completed_at":    now,
			"output_location": outputLocation,
			"updated_at":      now,
		},
	}

	res := m.jobsCol.FindOneAndUpdate(ctx, filter, update)
	if err := res.Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Already claimed or already terminal
			return false, nil
		}
		log.Error().Err(err).Str("jobID", id).Msg("Failed to claim job completion")
		return false, err
	}

	log.Info().Str("jobID", id).Msg("Claimed job completion")
	return true, nil
}

// MarkJobFailed forces a terminal failure, recording the error
func (m *mongoDB) MarkJobFailed(ctx context.Context, id string, jobErr model.JobError) error {
	now := time.Now()
	if jobErr.Timestamp.IsZero() {
		jobErr.Timestamp = now
	}

	// Set completed_at only when still unset; a job that failed during
	// ingestion already carries the completion timestamp from the claim.
	res, err := m.jobsCol.UpdateOne(ctx,
		bson.M{"_id": id, "completed_at": nil},
		bson.M{
			"$set": bson.M{
				"status":       model.StatusFailed,
				"completed_at": now,
				"updated_at":   now,
			},
			"$push": bson.M{"errors": jobErr},
		},
	)
	if err != nil {
		log.Error().Err(err).Str("jobID", id).Msg("Failed to mark job failed")
		return err
	}
	if res.MatchedCount > 0 {
		log.Warn().Str("jobID", id).Str("error", jobErr.Message).Msg("Marked job failed")
		return nil
	}

	_, err = m.jobsCol.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"status":     model.StatusFailed,
			"updated_at": now,
		},
		"$push": bson.M{"errors": jobErr},
	})
	if err != nil {
		log.Error().Err(err).Str("jobID", id).Msg("Failed to mark job failed")
		return err
	}

	log.Warn().Str("jobID", id).Str("error", jobErr.Message).Msg("Marked job failed")
	return nil
}

// MarkJobCancelled moves a job into the terminal Cancelled state
func (m *mongoDB) MarkJobCancelled(ctx context.Context, id string) error {
	now := time.Now()
	res, err := m.jobsCol.UpdateOne(ctx,
		bson.M{"_id": id, "completed_at": nil},
		bson.M{"$set": bson.M{
			"status":       model.StatusCancelled,
			"completed_at": now,
			"updated_at":   now,
		}},
	)
	if err != nil {
		log.Error().Err(err).Str("jobID", id).Msg("Failed to mark job cancelled")
		return err
	}
	if res.MatchedCount == 0 {
		_, err = m.jobsCol.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
			"status":     model.StatusCancelled,
			"updated_at": now,
		}})
		if err != nil {
			log.Error().Err(err).Str("jobID", id).Msg("Failed to mark job cancelled")
			return err
		}
	}

	log.Info().Str("jobID", id).Msg("Marked job cancelled")
	return nil
}

// AppendJobErrors pushes structured errors onto the job's error list
func (m *mongoDB) AppendJobErrors(ctx context.Context, id string, errs []model.JobError) error {
	if len(errs) == 0 {
		return nil
	}

	now := time.Now()
	for i := range errs {
		if errs[i].Timestamp.IsZero() {
			errs[i].Timestamp = now
		}
	}

	update := bson.M{
		"$push": bson.M{"errors": bson.M{"$each": errs}},
		"$set":  bson.M{"updated_at": now},
	}

	_, err := m.jobsCol.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		log.Error().Err(err).Str("jobID", id).Int("errorCount", len(errs)).Msg("Failed to append job errors")
		return err
	}

	return nil
}

// FoldIngestCounts adds ingestion results into the job counters
func (m *mongoDB) FoldIngestCounts(ctx context.Context, id string, succeeded, mismatched, failed int) error {
	update := bson.M{
		"$inc": bson.M{
			"counts.succeeded":  succeeded,
			"counts.mismatched": mismatched,
			"counts.failed":     failed,
		},
		"$set": bson.M{"updated_at": time.Now()},
	}

	_, err := m.jobsCol.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		log.Error().Err(err).Str("jobID", id).Msg("Failed to fold ingest counts")
		return err
	}

	return nil
}

// AddRetryBookkeeping increments the retry counters for a job
func (m *mongoDB) AddRetryBookkeeping(ctx context.Context, id string, attempts int, retriedDocs int) error {
	update := bson.M{
		"$inc": bson.M{
			"retry_attempts":    attempts,
			"retried_documents": retriedDocs,
		},
		"$set": bson.M{"updated_at": time.Now()},
	}

	_, err := m.jobsCol.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		log.Error().Err(err).Str("jobID", id).Msg("Failed to update retry bookkeeping")
		return err
	}

	return nil
}
