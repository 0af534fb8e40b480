package fixture

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ilyes-bd/presence-api/internal/models"
	"github.com/ilyes-bd/presence-api/internal/repository"
)

// NotificationStore holds per user notifications.
type NotificationStore struct {
	s *Store
}

// List returns a user's notifications, newest first.
func (n *NotificationStore) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	n.s.mu.RLock()
	defer n.s.mu.RUnlock()

	var matched []models.Notification
	for _, notification := range n.s.notifications {
		if notification.UserID != filter.UserID {
			continue
		}
		if filter.Unread != nil {
			if *filter.Unread && notification.ReadAt != nil {
				continue
			}
			if !*filter.Unread && notification.ReadAt == nil {
				continue
			}
		}
		matched = append(matched, notification)
	}

	sort.Slice(matched, func(i, j int) bool {
		return applyOrder(cmpTimes(matched[i].CreatedAt, matched[j].CreatedAt), false, matched[i].ID, matched[j].ID)
	})

	page, size := normalizePage(filter.Page, filter.PageSize, 20, 100)
	lo, hi := pageWindow(len(matched), page, size)
	return matched[lo:hi], len(matched), nil
}

// Create inserts a notification.
func (n *NotificationStore) Create(ctx context.Context, notification *models.Notification) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	n.s.notifications[notification.ID] = *notification
	return nil
}

// MarkRead stamps a single notification as read if it belongs to the
// user and is still unread, surfacing sql.ErrNoRows otherwise.
func (n *NotificationStore) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	notification, ok := n.s.notifications[id]
	if !ok || notification.UserID != userID || notification.ReadAt != nil {
		return sql.ErrNoRows
	}
	notification.ReadAt = &at
	n.s.notifications[id] = notification
	return nil
}

// MarkAllRead stamps every unread notification of the user.
func (n *NotificationStore) MarkAllRead(ctx context.Context, userID string, at time.Time) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	for id, notification := range n.s.notifications {
		if notification.UserID != userID || notification.ReadAt != nil {
			continue
		}
		stamp := at
		notification.ReadAt = &stamp
		n.s.notifications[id] = notification
	}
	return nil
}

// CountUnread returns the user's unread badge count.
func (n *NotificationStore) CountUnread(ctx context.Context, userID string) (int, error) {
	n.s.mu.RLock()
	defer n.s.mu.RUnlock()
	count := 0
	for _, notification := range n.s.notifications {
		if notification.UserID == userID && notification.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

// ReportJobStore holds queued and finished export jobs.
type ReportJobStore struct {
	s *Store
}

// Create inserts a job, defaulting to the queued state.
func (r *ReportJobStore) Create(ctx context.Context, job *models.ReportJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ReportStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	r.s.reportJobs[job.ID] = *job
	return nil
}

// GetByID returns a job by its identifier.
func (r *ReportJobStore) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	job, ok := r.s.reportJobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &job, nil
}

// Update applies the provided changes to a job.
func (r *ReportJobStore) Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.reportJobs[id]
	if !ok {
		return nil
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	r.s.reportJobs[id] = job
	return nil
}

// ListQueued fetches queued jobs, oldest first.
func (r *ReportJobStore) ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	var queued []models.ReportJob
	for _, job := range r.s.reportJobs {
		if job.Status == models.ReportStatusQueued {
			queued = append(queued, job)
		}
	}
	sort.Slice(queued, func(i, j int) bool {
		return applyOrder(cmpTimes(queued[i].CreatedAt, queued[j].CreatedAt), true, queued[i].ID, queued[j].ID)
	})
	if len(queued) > limit {
		queued = queued[:limit]
	}
	return queued, nil
}

// ListExpiredResults retrieves finished jobs whose export predates the
// cutoff and whose result has not been purged yet.
func (r *ReportJobStore) ListExpiredResults(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var expired []models.ReportJob
	for _, job := range r.s.reportJobs {
		if job.Status != models.ReportStatusFinished || job.FinishedAt == nil {
			continue
		}
		if job.ResultURL == nil || *job.ResultURL == "" {
			continue
		}
		if job.FinishedAt.Before(cutoff) {
			expired = append(expired, job)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return applyOrder(cmpTimePtrs(expired[i].FinishedAt, expired[j].FinishedAt), true, expired[i].ID, expired[j].ID)
	})
	if len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}
