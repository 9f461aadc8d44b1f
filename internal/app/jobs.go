package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chatcore/internal/util"
	"chatcore/pkg/domain"
	"chatcore/pkg/queue"
	"chatcore/pkg/storage"
	"chatcore/pkg/store"
)

// resolutionCost is the pre-authorized credit cost per supported image size.
var resolutionCost = map[int]int64{
	512:  10,
	768:  20,
	1024: 40,
}

// EnqueueImage creates a pending image job. The cost is debited up front in
// the same transaction that inserts the job, so a job row always has its
// compute paid for; a failed job refunds on the fail transition.
func (a *App) EnqueueImage(ctx context.Context, owner domain.User, prompt string, resolution int, conversationID string) (domain.ImageJob, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return domain.ImageJob{}, fmt.Errorf("prompt required")
	}
	if !domain.ValidResolution(resolution) {
		return domain.ImageJob{}, fmt.Errorf("unsupported resolution %d", resolution)
	}
	cost := resolutionCost[resolution]
	conversationID = strings.TrimSpace(conversationID)
	if conversationID != "" {
		if _, err := a.ownedConversation(owner, conversationID); err != nil {
			return domain.ImageJob{}, err
		}
	}
	job := domain.ImageJob{
		ID:             util.NewID(),
		OwnerID:        owner.ID,
		ConversationID: conversationID,
		Prompt:         prompt,
		Resolution:     resolution,
		Status:         domain.JobPending,
		Cost:           cost,
		CreatedAt:      time.Now().UTC(),
	}
	if err := a.store.CreateImageJob(job); err != nil {
		return domain.ImageJob{}, err
	}
	a.publishJobEvent(ctx, queue.JobCreated, job)
	return job, nil
}

// GetImageJob returns a job the caller owns.
func (a *App) GetImageJob(owner domain.User, jobID string) (domain.ImageJob, error) {
	job, found, err := a.store.GetImageJob(jobID)
	if err != nil {
		return domain.ImageJob{}, err
	}
	if !found || job.OwnerID != owner.ID {
		return domain.ImageJob{}, store.ErrNotFound
	}
	return job, nil
}

// ListImageJobs returns the caller's jobs, newest first.
func (a *App) ListImageJobs(owner domain.User, limit int) ([]domain.ImageJob, error) {
	return a.store.ListImageJobsByOwner(owner.ID, limit)
}

// ClaimJob is the worker-facing claim: pending moves to processing under a
// compare-and-swap, so of any number of racing workers exactly one wins.
func (a *App) ClaimJob(jobID string) (domain.ImageJob, error) {
	return a.store.ClaimImageJob(jobID)
}

// CompleteJob finishes a processing job with the storage reference of the
// generated image. An empty reference means the worker uploaded to the
// canonical key for the job.
func (a *App) CompleteJob(ctx context.Context, jobID, resultRef string) error {
	resultRef = strings.TrimSpace(resultRef)
	if resultRef == "" {
		resultRef = storage.ResultKey(jobID)
	}
	if err := a.store.CompleteImageJob(jobID, resultRef); err != nil {
		return err
	}
	if job, found, err := a.store.GetImageJob(jobID); err == nil && found {
		a.publishJobEvent(ctx, queue.JobCompleted, job)
	}
	return nil
}

// FailJob fails a processing job and refunds its pre-authorized cost.
func (a *App) FailJob(ctx context.Context, jobID, errorMessage string) error {
	job, found, err := a.store.GetImageJob(jobID)
	if err != nil {
		return err
	}
	if !found {
		return store.ErrNotFound
	}
	if err := a.store.FailImageJob(jobID, errorMessage, job.Cost); err != nil {
		return err
	}
	job.Status = domain.JobFailed
	a.publishJobEvent(ctx, queue.JobFailed, job)
	return nil
}

// ReclaimStalledJobs requeues processing jobs whose worker went quiet for
// longer than the staleness window. Each requeued job is announced again so
// another worker picks it up.
func (a *App) ReclaimStalledJobs(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-a.jobStaleAfter)
	requeued, err := a.store.ReclaimStalledImageJobs(cutoff)
	if err != nil {
		return 0, err
	}
	for _, job := range requeued {
		slog.Warn("requeued stalled image job", "job_id", job.ID, "owner_id", job.OwnerID)
		a.publishJobEvent(ctx, queue.JobRequeued, job)
	}
	return len(requeued), nil
}

// RunJobReclaimer periodically reclaims stalled jobs until the context ends.
func (a *App) RunJobReclaimer(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.ReclaimStalledJobs(ctx); err != nil {
				slog.Error("reclaim stalled jobs", "err", err)
			}
		}
	}
}

// FileURL resolves a storage key to a short-lived download URL.
func (a *App) FileURL(ctx context.Context, key string) (string, error) {
	if a.objects == nil {
		return "", ErrStorageNotConfigured
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("storage key required")
	}
	return a.objects.PresignGet(ctx, key, storage.DefaultURLExpiry)
}

// publishJobEvent is best-effort: job state lives in the store, the broker
// only wakes workers, so publish failures are logged and never unwound.
func (a *App) publishJobEvent(ctx context.Context, kind string, job domain.ImageJob) {
	event := queue.JobEvent{
		Kind:       kind,
		JobID:      job.ID,
		OwnerID:    job.OwnerID,
		Prompt:     job.Prompt,
		Resolution: job.Resolution,
		OccurredAt: time.Now().UTC(),
	}
	if err := a.publisher.PublishJobEvent(ctx, event); err != nil {
		slog.Warn("publish job event", "kind", kind, "job_id", job.ID, "err", err)
	}
}
