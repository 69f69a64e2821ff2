package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/metrics"
	"github.com/arturoeanton/runcoach/internal/port"
)

// SyncResult counts what one sync run did.
type SyncResult struct {
	Synced  int `json:"synced"`
	Linked  int `json:"linked"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// SyncService imports running activities from the provider.
type SyncService struct {
	vault      *TokenVault
	provider   port.ActivityProvider
	activities port.ActivityStore
	plans      port.PlanStore
	tracker    *SyncTracker
	live       port.LiveDelivery
	pageSize   int
}

// NewSyncService creates a sync service. live may be nil.
func NewSyncService(vault *TokenVault, provider port.ActivityProvider, activities port.ActivityStore, plans port.PlanStore, tracker *SyncTracker, live port.LiveDelivery, pageSize int) *SyncService {
	if live == nil {
		live = nopDelivery{}
	}
	if tracker == nil {
		tracker = NewSyncTracker()
	}
	return &SyncService{
		vault:      vault,
		provider:   provider,
		activities: activities,
		plans:      plans,
		tracker:    tracker,
		live:       live,
		pageSize:   pageSize,
	}
}

// Tracker returns the run tracker.
func (s *SyncService) Tracker() *SyncTracker {
	return s.tracker
}

// SyncActivities imports the most recent page of the user's provider
// activities. Already imported activities are skipped; a record that fails
// to store is logged and skipped without aborting the batch. Each new
// activity completes the athlete's open plan session on its local day.
func (s *SyncService) SyncActivities(ctx context.Context, userID string) (*SyncResult, error) {
	if !s.tracker.Begin(userID) {
		return nil, port.Conflict("sync already in progress")
	}
	res, err := s.run(ctx, userID)
	s.tracker.Finish(userID, res, err)

	if err != nil {
		metrics.SyncRunsTotal.WithLabelValues(metrics.ResultError).Inc()
		return nil, err
	}
	metrics.SyncRunsTotal.WithLabelValues(metrics.ResultOK).Inc()
	s.live.Deliver(userID, EventSyncCompleted, res)
	return res, nil
}

func (s *SyncService) run(ctx context.Context, userID string) (*SyncResult, error) {
	token, ok := s.vault.GetValidAccessToken(ctx, userID)
	if !ok {
		return nil, port.ErrNotConnected
	}

	remote, err := s.provider.ListActivities(ctx, token, port.ActivityQuery{Page: 1, PerPage: s.pageSize})
	if err != nil {
		return nil, fmt.Errorf("list provider activities: %w", err)
	}

	res := &SyncResult{}
	seen := make(map[int64]bool, len(remote))
	candidates := make([]domain.RemoteActivity, 0, len(remote))
	ids := make([]int64, 0, len(remote))
	for _, r := range remote {
		if !r.IsRunning() || seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		candidates = append(candidates, r)
		ids = append(ids, r.ID)
	}
	if len(candidates) == 0 {
		return res, nil
	}

	existing, err := s.activities.ExistingStravaIDs(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("load existing activities: %w", err)
	}

	for i := range candidates {
		r := &candidates[i]
		if existing[r.ID] {
			res.Skipped++
			continue
		}
		a := activityFromRemote(userID, r)
		inserted, err := s.activities.InsertSyncedActivity(ctx, a)
		if err != nil {
			slog.Error("store synced activity failed", "user_id", userID, "strava_id", r.ID, "error", err)
			metrics.SyncActivitiesTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
			res.Failed++
			continue
		}
		if !inserted {
			metrics.SyncActivitiesTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
			res.Skipped++
			continue
		}
		metrics.SyncActivitiesTotal.WithLabelValues(metrics.OutcomeSynced).Inc()
		res.Synced++

		if s.linkSession(ctx, userID, a.ID, localDay(r)) {
			metrics.SyncActivitiesTotal.WithLabelValues(metrics.OutcomeLinked).Inc()
			res.Linked++
		}
	}

	slog.Info("provider sync complete",
		"user_id", userID,
		"fetched", len(remote),
		"synced", res.Synced,
		"linked", res.Linked,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	return res, nil
}

// linkSession completes the athlete's open session on day with the activity.
func (s *SyncService) linkSession(ctx context.Context, userID, activityID string, day time.Time) bool {
	sess, err := s.plans.FindOpenSession(ctx, userID, day)
	if errors.Is(err, port.ErrNotFound) {
		return false
	}
	if err != nil {
		slog.Warn("find open session failed", "user_id", userID, "error", err)
		return false
	}
	linked, err := s.plans.LinkActivityToSession(ctx, sess.ID, activityID)
	if err != nil {
		slog.Warn("link session failed", "session_id", sess.ID, "activity_id", activityID, "error", err)
		return false
	}
	return linked
}

// localDay is the calendar day of the activity in the athlete's time zone.
// The provider reports local wall-clock time with a UTC designator.
func localDay(r *domain.RemoteActivity) time.Time {
	if !r.StartDateLocal.IsZero() {
		return domain.DayStart(r.StartDateLocal)
	}
	return domain.DayStart(r.StartDate.UTC())
}

func activityFromRemote(userID string, r *domain.RemoteActivity) *domain.Activity {
	stravaID := r.ID
	duration := r.MovingTime
	if duration == 0 {
		duration = r.ElapsedTime
	}
	distanceKm := math.Round(r.Distance) / 1000

	a := &domain.Activity{
		UserID:        userID,
		StravaID:      &stravaID,
		Source:        domain.SourceStrava,
		Name:          r.Name,
		ActivityType:  r.Kind(),
		Date:          r.StartDate.UTC(),
		DistanceKm:    distanceKm,
		DurationSec:   duration,
		ElevationGain: int(math.Round(r.TotalElevationGain)),
		AvgPace:       domain.PaceSecondsPerKm(duration, distanceKm),
		AvgHeartRate:  roundedPositive(r.AverageHeartrate),
		MaxHeartRate:  roundedPositive(r.MaxHeartrate),
		Calories:      roundedPositive(r.Calories),
		Splits:        r.SplitsMetric,
	}
	if poly := r.Map.SummaryPolyline; poly != "" {
		a.MapPolyline = &poly
	}
	switch {
	case len(r.StartLatLng) == 2:
		lat, lng := r.StartLatLng[0], r.StartLatLng[1]
		a.StartLat, a.StartLng = &lat, &lng
	case a.MapPolyline != nil:
		if lat, lng, ok := firstPoint(*a.MapPolyline); ok {
			a.StartLat, a.StartLng = &lat, &lng
		}
	}
	return a
}

func roundedPositive(v float64) *int {
	if v <= 0 {
		return nil
	}
	n := int(math.Round(v))
	return &n
}
