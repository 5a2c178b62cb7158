// Package sessions collapses raw job records into user-facing sessions.
// Retries can create several jobs within moments of each other; for display
// they are one logical batch.
package sessions

import (
	"intake/internal/model"
	"sort"
	"time"
)

// statusPrecedence orders aggregate session status: an in-flight job makes
// the whole session Processing, any failure beats Completed.
var statusPrecedence = map[model.JobStatus]int{
	model.StatusProcessing: 5,
	model.StatusPending:    4,
	model.StatusFailed:     3,
	model.StatusCancelled:  2,
	model.StatusCompleted:  1,
}

// Group merges jobs whose creation times fall within the window into
// synthetic sessions, newest first, capped at max. Pure: the input is not
// modified.
func Group(jobs []*model.Job, window time.Duration, max int) []model.Session {
	if len(jobs) == 0 {
		return []model.Session{}
	}

	sorted := make([]*model.Job, len(jobs))
	copy(sorted, jobs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	var sessions []model.Session
	current := newSession(sorted[0])

	for _, job := range sorted[1:] {
		// sorted newest-first, so the anchor is the previous job
		if current.anchor.Sub(job.CreatedAt) <= window {
			current.absorb(job)
			continue
		}

		sessions = append(sessions, current.finish())
		if max > 0 && len(sessions) >= max {
			return sessions
		}
		current = newSession(job)
	}

	sessions = append(sessions, current.finish())
	if max > 0 && len(sessions) > max {
		sessions = sessions[:max]
	}
	return sessions
}

// builder accumulates one session while walking the sorted job list
type builder struct {
	session model.Session
	anchor  time.Time
}

func newSession(job *model.Job) *builder {
	b := &builder{
		session: model.Session{
			ID:               job.ID,
			JobIDs:           []string{job.ID},
			Status:           job.Status,
			Counts:           job.Counts,
			Errors:           append([]model.JobError(nil), job.Errors...),
			RetryAttempts:    job.RetryAttempts,
			RetriedDocuments: job.RetriedDocuments,
			CreatedAt:        job.CreatedAt,
			StartedAt:        job.StartedAt,
			CompletedAt:      job.CompletedAt,
		},
		anchor: job.CreatedAt,
	}
	return b
}

func (b *builder) absorb(job *model.Job) {
	s := &b.session
	s.JobIDs = append(s.JobIDs, job.ID)

	if statusPrecedence[job.Status] > statusPrecedence[s.Status] {
		s.Status = job.Status
	}

	s.Counts.TotalDocuments += job.Counts.TotalDocuments
	s.Counts.Processed += job.Counts.Processed
	s.Counts.Succeeded += job.Counts.Succeeded
	s.Counts.Failed += job.Counts.Failed
	s.Counts.Blocked += job.Counts.Blocked
	s.Counts.Mismatched += job.Counts.Mismatched

	s.Errors = append(s.Errors, job.Errors...)
	s.RetryAttempts += job.RetryAttempts
	s.RetriedDocuments += job.RetriedDocuments

	if job.StartedAt != nil && (s.StartedAt == nil || job.StartedAt.Before(*s.StartedAt)) {
		s.StartedAt = job.StartedAt
	}
	if job.CompletedAt != nil && (s.CompletedAt == nil || job.CompletedAt.After(*s.CompletedAt)) {
		s.CompletedAt = job.CompletedAt
	}

	// Sliding anchor: each absorbed job extends the window from its own
	// creation time
	b.anchor = job.CreatedAt
}

func (b *builder) finish() model.Session {
	return b.session
}
