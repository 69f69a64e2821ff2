package domain

import (
	"encoding/json"
	"math"
	"time"
)

// ActivitySource records where an activity came from.
type ActivitySource string

// ActivitySource constants.
const (
	SourceManual ActivitySource = "MANUAL"
	SourceStrava ActivitySource = "STRAVA"
)

// Activity is a single logged workout owned by exactly one user.
// StravaID is the natural dedup key for imported rows: (UserID, StravaID) is unique.
type Activity struct {
	ID            string          `json:"id"                 db:"id"`
	UserID        string          `json:"user_id"            db:"user_id"`
	StravaID      *int64          `json:"strava_id"          db:"strava_id"`
	Source        ActivitySource  `json:"source"             db:"source"`
	Name          string          `json:"name"               db:"name"`
	ActivityType  string          `json:"activity_type"      db:"activity_type"`
	Date          time.Time       `json:"date"               db:"date"`
	DistanceKm    float64         `json:"distance_km"        db:"distance_km"`
	DurationSec   int             `json:"duration_sec"       db:"duration_sec"`
	ElevationGain int             `json:"elevation_gain"     db:"elevation_gain"`
	AvgPace       *float64        `json:"avg_pace_sec_per_km" db:"avg_pace_sec_per_km"`
	AvgHeartRate  *int            `json:"avg_heart_rate"     db:"avg_heart_rate"`
	MaxHeartRate  *int            `json:"max_heart_rate"     db:"max_heart_rate"`
	Calories      *int            `json:"calories"           db:"calories"`
	StartLat      *float64        `json:"start_lat"          db:"start_lat"`
	StartLng      *float64        `json:"start_lng"          db:"start_lng"`
	MapPolyline   *string         `json:"map_polyline"       db:"map_polyline"`
	Splits        json.RawMessage `json:"splits"             db:"splits"`
	Notes         string          `json:"notes"              db:"notes"`
	CoachFeedback *string         `json:"coach_feedback"     db:"coach_feedback"`
	FeedbackAt    *time.Time      `json:"feedback_at"        db:"feedback_at"`
	PlanSessionID *string         `json:"plan_session_id"    db:"plan_session_id"`
	CreatedAt     time.Time       `json:"created_at"         db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"         db:"updated_at"`
}

// ActivityFilter narrows an activity listing.
type ActivityFilter struct {
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// ActivityTotals are aggregate figures over a set of activities.
type ActivityTotals struct {
	Count         int     `json:"count"          db:"count"`
	DistanceKm    float64 `json:"distance_km"    db:"distance_km"`
	DurationSec   int     `json:"duration_sec"   db:"duration_sec"`
	ElevationGain int     `json:"elevation_gain" db:"elevation_gain"`
}

// WeeklyVolume is one Monday-based bucket of training volume.
type WeeklyVolume struct {
	WeekStart   time.Time `json:"week_start"   db:"week_start"`
	Count       int       `json:"count"        db:"count"`
	DistanceKm  float64   `json:"distance_km"  db:"distance_km"`
	DurationSec int       `json:"duration_sec" db:"duration_sec"`
}

// ActivityStats is the dashboard summary for one user.
type ActivityStats struct {
	Totals  ActivityTotals `json:"totals"`
	AvgPace *float64       `json:"avg_pace_sec_per_km"`
	Weekly  []WeeklyVolume `json:"weekly"`
}

// PaceSecondsPerKm derives pace from a duration and a distance.
// Zero or negative distances have no pace.
func PaceSecondsPerKm(durationSec int, distanceKm float64) *float64 {
	if distanceKm <= 0 || durationSec <= 0 {
		return nil
	}
	pace := math.Round(float64(durationSec)/distanceKm*100) / 100
	return &pace
}

// WeekStart returns midnight UTC of the Monday on or before t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// DayStart returns midnight UTC of the calendar day of t's wall clock.
func DayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// RemoteActivity is an activity summary as returned by the provider.
type RemoteActivity struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Type               string    `json:"type"`
	SportType          string    `json:"sport_type"`
	StartDate          time.Time `json:"start_date"`
	StartDateLocal     time.Time `json:"start_date_local"`
	Distance           float64   `json:"distance"`    // meters
	MovingTime         int       `json:"moving_time"` // seconds
	ElapsedTime        int       `json:"elapsed_time"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
	AverageHeartrate   float64   `json:"average_heartrate"`
	MaxHeartrate       float64   `json:"max_heartrate"`
	Calories           float64   `json:"calories"`
	StartLatLng        []float64 `json:"start_latlng"`
	Map                struct {
		SummaryPolyline string `json:"summary_polyline"`
	} `json:"map"`
	SplitsMetric json.RawMessage `json:"splits_metric,omitempty"`
}

// runningKinds is the allow-list of provider activity kinds imported by sync.
var runningKinds = map[string]bool{
	"Run":        true,
	"TrailRun":   true,
	"VirtualRun": true,
}

// IsRunning reports whether the remote activity is a running kind.
func (r *RemoteActivity) IsRunning() bool {
	if r.SportType != "" {
		return runningKinds[r.SportType]
	}
	return runningKinds[r.Type]
}

// Kind returns the most specific kind the provider reported.
func (r *RemoteActivity) Kind() string {
	if r.SportType != "" {
		return r.SportType
	}
	return r.Type
}
