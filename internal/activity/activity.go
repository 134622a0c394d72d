// Package activity provides read access to the activity store and
// per-source event velocity tracking.
package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/telco-sentinel/harrier/internal/domain"
)

// Service assembles behavior context from the activity store and tracks
// event velocity per source through cache counters.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new activity service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// RecordEvent increments the rolling event counter for a source and returns
// the count inside the window. Counter failures are non-fatal for the
// pipeline, so the error is returned for logging rather than propagation.
func (s *Service) RecordEvent(ctx context.Context, tenantID, source string, window time.Duration) (int64, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.IncrementCounter(ctx, tenantID, "velocity:"+source, window)
}

// Window retrieves a subject's activity records since a point in time,
// for the outlier scan and for assembling behavior samples.
func (s *Service) Window(ctx context.Context, tenantID, subjectID string, since time.Time) ([]*domain.ActivityRecord, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("no activity store available")
	}
	return s.repo.ListActivity(ctx, tenantID, subjectID, since)
}

// CountRecent counts a subject's activity inside a time window.
func (s *Service) CountRecent(ctx context.Context, tenantID, subjectID string, window time.Duration) (int64, error) {
	if s.repo == nil {
		return 0, fmt.Errorf("no activity store available")
	}
	return s.repo.CountActivity(ctx, tenantID, subjectID, time.Now().Add(-window))
}

// BehaviorContext fills an empty behavior sample with recent activity from
// the store, so scoring always sees the subject's actual window.
func (s *Service) BehaviorContext(ctx context.Context, tenantID string, sample *domain.BehaviorSample, window time.Duration) error {
	if len(sample.RecentActivity) > 0 {
		return nil
	}

	records, err := s.Window(ctx, tenantID, sample.SubjectID, time.Now().Add(-window))
	if err != nil {
		return err
	}

	snapshots := make([]domain.ActivitySnapshot, 0, len(records))
	for _, r := range records {
		snapshots = append(snapshots, domain.ActivitySnapshot{
			ActivityType: string(r.ActivityType),
			PeerAddress:  r.PeerAddress,
			Timestamp:    r.Timestamp,
		})
	}
	sample.RecentActivity = snapshots
	return nil
}
