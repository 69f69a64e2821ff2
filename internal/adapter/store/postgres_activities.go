package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/lib/pq"
)

const activityColumns = `id, user_id, strava_id, source, name, activity_type, date, distance_km, duration_sec,
	elevation_gain, avg_pace_sec_per_km, avg_heart_rate, max_heart_rate, calories, start_lat, start_lng,
	map_polyline, COALESCE(splits, 'null'::jsonb) AS splits, notes, coach_feedback, feedback_at,
	plan_session_id, created_at, updated_at`

const activityInsert = `INSERT INTO activities (user_id, strava_id, source, name, activity_type, date, distance_km,
	duration_sec, elevation_gain, avg_pace_sec_per_km, avg_heart_rate, max_heart_rate, calories, start_lat,
	start_lng, map_polyline, splits, notes, plan_session_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17::jsonb, $18, $19)`

// nullJSON returns nil for an absent document so the column stays NULL.
func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return string(raw)
}

func activityArgs(a *domain.Activity) []interface{} {
	return []interface{}{
		a.UserID, a.StravaID, a.Source, a.Name, a.ActivityType, a.Date, a.DistanceKm,
		a.DurationSec, a.ElevationGain, a.AvgPace, a.AvgHeartRate, a.MaxHeartRate, a.Calories, a.StartLat,
		a.StartLng, a.MapPolyline, nullJSON(a.Splits), a.Notes, a.PlanSessionID,
	}
}

// CreateActivity inserts a manually logged activity.
func (s *PostgresStore) CreateActivity(ctx context.Context, a *domain.Activity) (*domain.Activity, error) {
	var out domain.Activity
	if err := s.db.GetContext(ctx, &out, activityInsert+` RETURNING `+activityColumns, activityArgs(a)...); err != nil {
		return nil, translate("create activity", err)
	}
	return &out, nil
}

// InsertSyncedActivity relies on UNIQUE (user_id, strava_id) to drop duplicates.
func (s *PostgresStore) InsertSyncedActivity(ctx context.Context, a *domain.Activity) (bool, error) {
	rows, err := s.db.QueryxContext(ctx,
		activityInsert+` ON CONFLICT (user_id, strava_id) DO NOTHING RETURNING id, created_at, updated_at`,
		activityArgs(a)...)
	if err != nil {
		return false, translate("insert synced activity", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return false, rows.Err()
	}
	if err := rows.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return false, fmt.Errorf("insert synced activity: %w", err)
	}
	return true, nil
}

// GetActivity returns an activity by id.
func (s *PostgresStore) GetActivity(ctx context.Context, id string) (*domain.Activity, error) {
	var a domain.Activity
	if err := s.db.GetContext(ctx, &a, `SELECT `+activityColumns+` FROM activities WHERE id = $1`, id); err != nil {
		return nil, translate("get activity", err)
	}
	return &a, nil
}

// ListActivities returns the user's activities, newest first.
func (s *PostgresStore) ListActivities(ctx context.Context, userID string, f domain.ActivityFilter) ([]domain.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities WHERE user_id = $1`
	args := []interface{}{userID}

	if f.From != nil {
		args = append(args, *f.From)
		query += fmt.Sprintf(" AND date >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		query += fmt.Sprintf(" AND date < $%d", len(args))
	}
	query += " ORDER BY date DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	activities := []domain.Activity{}
	if err := s.db.SelectContext(ctx, &activities, query, args...); err != nil {
		return nil, translate("list activities", err)
	}
	return activities, nil
}

// UpdateActivity writes the owner-editable fields.
func (s *PostgresStore) UpdateActivity(ctx context.Context, a *domain.Activity) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE activities SET name = $2, activity_type = $3, date = $4, distance_km = $5, duration_sec = $6,
		     elevation_gain = $7, avg_pace_sec_per_km = $8, avg_heart_rate = $9, max_heart_rate = $10,
		     calories = $11, notes = $12, plan_session_id = $13, updated_at = NOW()
		 WHERE id = $1`,
		a.ID, a.Name, a.ActivityType, a.Date, a.DistanceKm, a.DurationSec,
		a.ElevationGain, a.AvgPace, a.AvgHeartRate, a.MaxHeartRate,
		a.Calories, a.Notes, a.PlanSessionID)
	if err != nil {
		return translate("update activity", err)
	}
	return requireRow("update activity", res)
}

// DeleteActivity removes an activity.
func (s *PostgresStore) DeleteActivity(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM activities WHERE id = $1`, id)
	if err != nil {
		return translate("delete activity", err)
	}
	return requireRow("delete activity", res)
}

// DeleteActivityByStravaID removes an imported activity by its natural key.
func (s *PostgresStore) DeleteActivityByStravaID(ctx context.Context, userID string, stravaID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM activities WHERE user_id = $1 AND strava_id = $2`, userID, stravaID)
	if err != nil {
		return false, translate("delete activity by strava id", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete activity by strava id: %w", err)
	}
	return n > 0, nil
}

// ExistingStravaIDs reports which of ids are already imported for the user.
func (s *PostgresStore) ExistingStravaIDs(ctx context.Context, userID string, ids []int64) (map[int64]bool, error) {
	found := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	var existing []int64
	err := s.db.SelectContext(ctx, &existing,
		`SELECT strava_id FROM activities WHERE user_id = $1 AND strava_id = ANY($2)`, userID, pq.Array(ids))
	if err != nil {
		return nil, translate("existing strava ids", err)
	}
	for _, id := range existing {
		found[id] = true
	}
	return found, nil
}

// SetFeedback stores the coach's feedback on an activity.
func (s *PostgresStore) SetFeedback(ctx context.Context, id, feedback string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE activities SET coach_feedback = $2, feedback_at = $3, updated_at = NOW() WHERE id = $1`, id, feedback, at)
	if err != nil {
		return translate("set feedback", err)
	}
	return requireRow("set feedback", res)
}

// ActivityStats aggregates totals and Monday-based weekly volume since the given instant.
func (s *PostgresStore) ActivityStats(ctx context.Context, userID string, since time.Time) (*domain.ActivityStats, error) {
	var stats domain.ActivityStats
	err := s.db.GetContext(ctx, &stats.Totals,
		`SELECT COUNT(*) AS count,
		        COALESCE(SUM(distance_km), 0) AS distance_km,
		        COALESCE(SUM(duration_sec), 0) AS duration_sec,
		        COALESCE(SUM(elevation_gain), 0) AS elevation_gain
		 FROM activities WHERE user_id = $1 AND date >= $2`, userID, since)
	if err != nil {
		return nil, translate("activity totals", err)
	}

	stats.Weekly = []domain.WeeklyVolume{}
	err = s.db.SelectContext(ctx, &stats.Weekly,
		`SELECT date_trunc('week', date AT TIME ZONE 'UTC') AS week_start,
		        COUNT(*) AS count,
		        COALESCE(SUM(distance_km), 0) AS distance_km,
		        COALESCE(SUM(duration_sec), 0) AS duration_sec
		 FROM activities WHERE user_id = $1 AND date >= $2
		 GROUP BY 1 ORDER BY 1`, userID, since)
	if err != nil {
		return nil, translate("weekly volume", err)
	}
	for i := range stats.Weekly {
		w := stats.Weekly[i].WeekStart
		stats.Weekly[i].WeekStart = time.Date(w.Year(), w.Month(), w.Day(), 0, 0, 0, 0, time.UTC)
	}

	stats.AvgPace = domain.PaceSecondsPerKm(stats.Totals.DurationSec, stats.Totals.DistanceKm)
	return &stats, nil
}
