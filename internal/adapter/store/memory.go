package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/port"
	"github.com/google/uuid"
)

// MemoryStore is an in-process store with the same uniqueness and
// conditional-update semantics as PostgresStore. Selected with
// DATABASE_URL=memory:// and used by tests.
type MemoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	users         map[string]*domain.User
	invitations   map[string]*domain.Invitation
	tokens        map[string]*domain.ExternalToken // by user id
	activities    map[string]*domain.Activity
	plans         map[string]*domain.TrainingPlan
	sessions      map[string]*domain.PlanSession
	messages      []*domain.Message
	notifications map[string]*domain.Notification
	audit         []domain.AuditLog
}

var _ port.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           func() time.Time { return time.Now().UTC() },
		users:         make(map[string]*domain.User),
		invitations:   make(map[string]*domain.Invitation),
		tokens:        make(map[string]*domain.ExternalToken),
		activities:    make(map[string]*domain.Activity),
		plans:         make(map[string]*domain.TrainingPlan),
		sessions:      make(map[string]*domain.PlanSession),
		notifications: make(map[string]*domain.Notification),
	}
}

// SetClock overrides the timestamp source for created_at style columns.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func notFound(op string) error { return fmt.Errorf("%s: %w", op, port.ErrNotFound) }
func conflict(op string) error { return fmt.Errorf("%s: %w", op, port.ErrConflict) }

// --- Users ---

// CreateUser inserts a user. A taken email is port.ErrConflict.
func (s *MemoryStore) CreateUser(_ context.Context, u *domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createUserLocked(u)
}

func (s *MemoryStore) createUserLocked(u *domain.User) (*domain.User, error) {
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return nil, conflict("create user")
		}
	}
	now := s.now()
	user := *u
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = &user
	out := user
	return &out, nil
}

// GetUserByID retrieves a user by ID.
func (s *MemoryStore) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, notFound("get user")
	}
	out := *u
	return &out, nil
}

// GetUserByEmail retrieves a user by normalized email.
func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			out := *u
			return &out, nil
		}
	}
	return nil, notFound("get user by email")
}

// ListAthletes returns the athletes linked to coachID, by name.
func (s *MemoryStore) ListAthletes(_ context.Context, coachID string) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.User{}
	for _, u := range s.users {
		if u.Role == domain.RoleAthlete && u.HasCoach(coachID) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SetCoach links or unlinks an athlete's coach.
func (s *MemoryStore) SetCoach(_ context.Context, athleteID string, coachID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[athleteID]
	if !ok || u.Role != domain.RoleAthlete {
		return notFound("set coach")
	}
	if coachID == nil {
		u.CoachID = nil
	} else {
		id := *coachID
		u.CoachID = &id
	}
	u.UpdatedAt = s.now()
	return nil
}

// --- Invitations ---

// CreateInvitation inserts only if the code is absent.
func (s *MemoryStore) CreateInvitation(_ context.Context, inv *domain.Invitation) (*domain.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.invitations {
		if existing.Code == inv.Code {
			return nil, conflict("create invitation")
		}
	}
	created := *inv
	created.ID = uuid.NewString()
	created.Status = domain.InvitationPending
	created.UsedAt = nil
	created.UsedByEmail = nil
	created.CreatedAt = s.now()
	s.invitations[created.ID] = &created
	out := created
	return &out, nil
}

// GetInvitationByID returns an invitation by id.
func (s *MemoryStore) GetInvitationByID(_ context.Context, id string) (*domain.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invitations[id]
	if !ok {
		return nil, notFound("get invitation")
	}
	out := *inv
	return &out, nil
}

// GetInvitationByCode returns an invitation by its code.
func (s *MemoryStore) GetInvitationByCode(_ context.Context, code string) (*domain.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if inv := s.invitationByCodeLocked(code); inv != nil {
		out := *inv
		return &out, nil
	}
	return nil, notFound("get invitation by code")
}

func (s *MemoryStore) invitationByCodeLocked(code string) *domain.Invitation {
	for _, inv := range s.invitations {
		if inv.Code == code {
			return inv
		}
	}
	return nil
}

// ListInvitations returns the coach's invitations, newest first.
func (s *MemoryStore) ListInvitations(_ context.Context, coachID string) ([]domain.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Invitation{}
	for _, inv := range s.invitations {
		if inv.CoachID == coachID {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// TransitionInvitation is a conditional status update.
func (s *MemoryStore) TransitionInvitation(_ context.Context, id string, from, to domain.InvitationStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok || inv.Status != from || !from.CanTransition(to) {
		return false, nil
	}
	inv.Status = to
	return true, nil
}

// RegisterWithInvitation creates the athlete and accepts the invitation under one lock.
func (s *MemoryStore) RegisterWithInvitation(_ context.Context, u *domain.User, code string, now time.Time) (*domain.User, *domain.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv := s.invitationByCodeLocked(code)
	if inv == nil {
		return nil, nil, port.ErrInvitationNotFound
	}
	expire, err := redeemCheck(inv, u.Email, now)
	if expire {
		inv.Status = domain.InvitationExpired
	}
	if err != nil {
		return nil, nil, err
	}

	athlete := *u
	athlete.Role = domain.RoleAthlete
	coachID := inv.CoachID
	athlete.CoachID = &coachID
	created, err := s.createUserLocked(&athlete)
	if err != nil {
		return nil, nil, err
	}

	usedAt := now
	email := created.Email
	inv.Status = domain.InvitationAccepted
	inv.UsedAt = &usedAt
	inv.UsedByEmail = &email
	out := *inv
	return created, &out, nil
}

// ExpireInvitations moves every overdue PENDING invitation to EXPIRED.
func (s *MemoryStore) ExpireInvitations(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, inv := range s.invitations {
		if inv.Status == domain.InvitationPending && inv.IsExpired(now) {
			inv.Status = domain.InvitationExpired
			n++
		}
	}
	return n, nil
}

// --- Tokens ---

// GetToken returns the user's vault entry.
func (s *MemoryStore) GetToken(_ context.Context, userID string) (*domain.ExternalToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[userID]
	if !ok {
		return nil, notFound("get token")
	}
	out := *t
	return &out, nil
}

// GetTokenByAthlete finds a vault entry by the provider's athlete id.
func (s *MemoryStore) GetTokenByAthlete(_ context.Context, athleteID int64) (*domain.ExternalToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tokens {
		if t.ExternalAthleteID == athleteID {
			out := *t
			return &out, nil
		}
	}
	return nil, notFound("get token by athlete")
}

// SaveToken replaces the user's vault entry.
func (s *MemoryStore) SaveToken(_ context.Context, t *domain.ExternalToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, existing := range s.tokens {
		if userID != t.UserID && existing.ExternalAthleteID == t.ExternalAthleteID {
			return conflict("save token")
		}
	}
	saved := *t
	saved.UpdatedAt = s.now()
	s.tokens[t.UserID] = &saved
	return nil
}

// ReplaceExpiredToken writes t only if the stored expiry still equals observed.
func (s *MemoryStore) ReplaceExpiredToken(_ context.Context, userID string, observed time.Time, t *domain.ExternalToken) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tokens[userID]
	if !ok || !current.ExpiresAt.Equal(observed) {
		return false, nil
	}
	current.AccessToken = t.AccessToken
	current.RefreshToken = t.RefreshToken
	current.ExpiresAt = t.ExpiresAt
	current.Scope = t.Scope
	current.UpdatedAt = s.now()
	return true, nil
}

// DeleteToken removes the user's vault entry.
func (s *MemoryStore) DeleteToken(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[userID]; !ok {
		return notFound("delete token")
	}
	delete(s.tokens, userID)
	return nil
}

// --- Activities ---

func (s *MemoryStore) insertActivityLocked(a *domain.Activity) *domain.Activity {
	now := s.now()
	created := *a
	created.ID = uuid.NewString()
	created.CreatedAt = now
	created.UpdatedAt = now
	if len(created.Splits) == 0 {
		created.Splits = json.RawMessage("null")
	}
	s.activities[created.ID] = &created
	return &created
}

// CreateActivity inserts a manually logged activity.
func (s *MemoryStore) CreateActivity(_ context.Context, a *domain.Activity) (*domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.StravaID != nil && s.hasStravaIDLocked(a.UserID, *a.StravaID) {
		return nil, conflict("create activity")
	}
	out := *s.insertActivityLocked(a)
	return &out, nil
}

func (s *MemoryStore) hasStravaIDLocked(userID string, stravaID int64) bool {
	for _, existing := range s.activities {
		if existing.UserID == userID && existing.StravaID != nil && *existing.StravaID == stravaID {
			return true
		}
	}
	return false
}

// InsertSyncedActivity drops rows whose (user, strava id) already exists.
func (s *MemoryStore) InsertSyncedActivity(_ context.Context, a *domain.Activity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.StravaID != nil && s.hasStravaIDLocked(a.UserID, *a.StravaID) {
		return false, nil
	}
	created := s.insertActivityLocked(a)
	a.ID = created.ID
	a.CreatedAt = created.CreatedAt
	a.UpdatedAt = created.UpdatedAt
	return true, nil
}

// GetActivity returns an activity by id.
func (s *MemoryStore) GetActivity(_ context.Context, id string) (*domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.activities[id]
	if !ok {
		return nil, notFound("get activity")
	}
	out := *a
	return &out, nil
}

// ListActivities returns the user's activities, newest first.
func (s *MemoryStore) ListActivities(_ context.Context, userID string, f domain.ActivityFilter) ([]domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Activity{}
	for _, a := range s.activities {
		if a.UserID != userID {
			continue
		}
		if f.From != nil && a.Date.Before(*f.From) {
			continue
		}
		if f.To != nil && !a.Date.Before(*f.To) {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return paginate(out, f.Limit, f.Offset), nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// UpdateActivity overwrites the editable fields of an activity.
func (s *MemoryStore) UpdateActivity(_ context.Context, a *domain.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.activities[a.ID]
	if !ok {
		return notFound("update activity")
	}
	cur.Name = a.Name
	cur.ActivityType = a.ActivityType
	cur.Date = a.Date
	cur.DistanceKm = a.DistanceKm
	cur.DurationSec = a.DurationSec
	cur.ElevationGain = a.ElevationGain
	cur.AvgPace = a.AvgPace
	cur.AvgHeartRate = a.AvgHeartRate
	cur.MaxHeartRate = a.MaxHeartRate
	cur.Calories = a.Calories
	cur.Notes = a.Notes
	cur.PlanSessionID = a.PlanSessionID
	cur.UpdatedAt = s.now()
	return nil
}

// DeleteActivity removes an activity and unlinks its plan session.
func (s *MemoryStore) DeleteActivity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.activities[id]; !ok {
		return notFound("delete activity")
	}
	s.deleteActivityLocked(id)
	return nil
}

// deleteActivityLocked mirrors ON DELETE SET NULL on the referencing columns.
func (s *MemoryStore) deleteActivityLocked(id string) {
	delete(s.activities, id)
	for _, sess := range s.sessions {
		if sess.ActivityID != nil && *sess.ActivityID == id {
			sess.ActivityID = nil
		}
	}
	for _, m := range s.messages {
		if m.ActivityID != nil && *m.ActivityID == id {
			m.ActivityID = nil
		}
	}
}

// DeleteActivityByStravaID removes an imported activity.
func (s *MemoryStore) DeleteActivityByStravaID(_ context.Context, userID string, stravaID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.activities {
		if a.UserID == userID && a.StravaID != nil && *a.StravaID == stravaID {
			s.deleteActivityLocked(id)
			return true, nil
		}
	}
	return false, nil
}

// ExistingStravaIDs reports which of ids are already stored for the user.
func (s *MemoryStore) ExistingStravaIDs(_ context.Context, userID string, ids []int64) (map[int64]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if s.hasStravaIDLocked(userID, id) {
			found[id] = true
		}
	}
	return found, nil
}

// SetFeedback stores coach feedback on an activity.
func (s *MemoryStore) SetFeedback(_ context.Context, id, feedback string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activities[id]
	if !ok {
		return notFound("set feedback")
	}
	fb := feedback
	ts := at
	a.CoachFeedback = &fb
	a.FeedbackAt = &ts
	a.UpdatedAt = s.now()
	return nil
}

// ActivityStats aggregates totals and Monday-based weekly buckets since since.
func (s *MemoryStore) ActivityStats(_ context.Context, userID string, since time.Time) (*domain.ActivityStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &domain.ActivityStats{Weekly: []domain.WeeklyVolume{}}
	buckets := make(map[time.Time]*domain.WeeklyVolume)
	for _, a := range s.activities {
		if a.UserID != userID || a.Date.Before(since) {
			continue
		}
		stats.Totals.Count++
		stats.Totals.DistanceKm += a.DistanceKm
		stats.Totals.DurationSec += a.DurationSec
		stats.Totals.ElevationGain += a.ElevationGain

		week := domain.WeekStart(a.Date)
		b, ok := buckets[week]
		if !ok {
			b = &domain.WeeklyVolume{WeekStart: week}
			buckets[week] = b
		}
		b.Count++
		b.DistanceKm += a.DistanceKm
		b.DurationSec += a.DurationSec
	}
	for _, b := range buckets {
		stats.Weekly = append(stats.Weekly, *b)
	}
	sort.Slice(stats.Weekly, func(i, j int) bool { return stats.Weekly[i].WeekStart.Before(stats.Weekly[j].WeekStart) })
	stats.AvgPace = domain.PaceSecondsPerKm(stats.Totals.DurationSec, stats.Totals.DistanceKm)
	return stats, nil
}

// --- Plans ---

// CreatePlan inserts a plan with its sessions.
func (s *MemoryStore) CreatePlan(_ context.Context, p *domain.TrainingPlan) (*domain.TrainingPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan := *p
	plan.ID = uuid.NewString()
	plan.CreatedAt = s.now()
	plan.Sessions = nil
	stored := plan
	s.plans[plan.ID] = &stored

	plan.Sessions = make([]domain.PlanSession, 0, len(p.Sessions))
	for _, in := range p.Sessions {
		sess := in
		sess.ID = uuid.NewString()
		sess.PlanID = plan.ID
		sess.AthleteID = plan.AthleteID
		sess.SessionDate = domain.DayStart(in.SessionDate)
		sess.Status = domain.SessionPlanned
		sess.ActivityID = nil
		saved := sess
		s.sessions[sess.ID] = &saved
		plan.Sessions = append(plan.Sessions, sess)
	}
	return &plan, nil
}

// GetPlan returns a plan with its sessions.
func (s *MemoryStore) GetPlan(_ context.Context, id string) (*domain.TrainingPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, notFound("get plan")
	}
	out := *p
	out.Sessions = []domain.PlanSession{}
	for _, sess := range s.sessions {
		if sess.PlanID == id {
			out.Sessions = append(out.Sessions, *sess)
		}
	}
	sort.Slice(out.Sessions, func(i, j int) bool {
		return out.Sessions[i].SessionDate.Before(out.Sessions[j].SessionDate)
	})
	return &out, nil
}

// ListPlans returns plans matching the filter.
func (s *MemoryStore) ListPlans(_ context.Context, f port.PlanFilter) ([]domain.TrainingPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.TrainingPlan{}
	for _, p := range s.plans {
		if f.CoachID != "" && p.CoachID != f.CoachID {
			continue
		}
		if f.AthleteID != "" && p.AthleteID != f.AthleteID {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	return out, nil
}

// DeletePlan removes a plan and its sessions.
func (s *MemoryStore) DeletePlan(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[id]; !ok {
		return notFound("delete plan")
	}
	delete(s.plans, id)
	for sid, sess := range s.sessions {
		if sess.PlanID != id {
			continue
		}
		delete(s.sessions, sid)
		for _, a := range s.activities {
			if a.PlanSessionID != nil && *a.PlanSessionID == sid {
				a.PlanSessionID = nil
			}
		}
	}
	return nil
}

// GetSession returns a plan session by id.
func (s *MemoryStore) GetSession(_ context.Context, id string) (*domain.PlanSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, notFound("get session")
	}
	out := *sess
	return &out, nil
}

// UpdateSessionStatus is a conditional session status update.
func (s *MemoryStore) UpdateSessionStatus(_ context.Context, id string, from, to domain.SessionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status != from {
		return false, nil
	}
	sess.Status = to
	return true, nil
}

// FindOpenSession returns the athlete's PLANNED session on day, if any.
func (s *MemoryStore) FindOpenSession(_ context.Context, athleteID string, day time.Time) (*domain.PlanSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := domain.DayStart(day)
	end := start.AddDate(0, 0, 1)
	var best *domain.PlanSession
	for _, sess := range s.sessions {
		if sess.AthleteID != athleteID || !sess.IsOpen() {
			continue
		}
		if sess.SessionDate.Before(start) || !sess.SessionDate.Before(end) {
			continue
		}
		if best == nil || sess.SessionDate.Before(best.SessionDate) {
			best = sess
		}
	}
	if best == nil {
		return nil, notFound("find open session")
	}
	out := *best
	return &out, nil
}

// LinkActivityToSession completes an open session with the activity.
func (s *MemoryStore) LinkActivityToSession(_ context.Context, sessionID, activityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || !sess.IsOpen() {
		return false, nil
	}
	a, ok := s.activities[activityID]
	if !ok {
		return false, notFound("link activity")
	}
	aid, sid := activityID, sessionID
	sess.Status = domain.SessionCompleted
	sess.ActivityID = &aid
	a.PlanSessionID = &sid
	a.UpdatedAt = s.now()
	return true, nil
}

// --- Messages ---

// CreateMessage persists a direct message.
func (s *MemoryStore) CreateMessage(_ context.Context, m *domain.Message) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := *m
	msg.ID = uuid.NewString()
	msg.SentAt = s.now()
	msg.ReadAt = nil
	s.messages = append(s.messages, &msg)
	out := msg
	return &out, nil
}

func between(m *domain.Message, a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// ListMessages returns the latest limit messages between a and b, oldest first.
func (s *MemoryStore) ListMessages(_ context.Context, a, b string, before *time.Time, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var thread []domain.Message
	for _, m := range s.messages {
		if !between(m, a, b) {
			continue
		}
		if before != nil && !m.SentAt.Before(*before) {
			continue
		}
		thread = append(thread, *m)
	}
	sort.SliceStable(thread, func(i, j int) bool { return thread[i].SentAt.Before(thread[j].SentAt) })
	if limit > 0 && len(thread) > limit {
		thread = thread[len(thread)-limit:]
	}
	if thread == nil {
		thread = []domain.Message{}
	}
	return thread, nil
}

// MarkRead marks the sender's unread messages to receiver as read.
func (s *MemoryStore) MarkRead(_ context.Context, senderID, receiverID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.SenderID == senderID && m.ReceiverID == receiverID && m.ReadAt == nil {
			ts := at
			m.ReadAt = &ts
			n++
		}
	}
	return n, nil
}

// ListConversations groups the user's messages by counterpart.
func (s *MemoryStore) ListConversations(_ context.Context, userID string) ([]domain.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	last := make(map[string]*domain.Message)
	unread := make(map[string]int)
	for _, m := range s.messages {
		if m.SenderID != userID && m.ReceiverID != userID {
			continue
		}
		other := m.Counterpart(userID)
		if cur, ok := last[other]; !ok || !m.SentAt.Before(cur.SentAt) {
			last[other] = m
		}
		if m.ReceiverID == userID && m.ReadAt == nil {
			unread[other]++
		}
	}
	out := make([]domain.ConversationSummary, 0, len(last))
	for other, m := range last {
		msg := *m
		var counterpart *domain.User
		if u, ok := s.users[other]; ok {
			cp := *u
			counterpart = &cp
		}
		out = append(out, domain.ConversationSummary{
			Counterpart: counterpart,
			LastMessage: &msg,
			UnreadCount: unread[other],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessage.SentAt.After(out[j].LastMessage.SentAt)
	})
	return out, nil
}

// CountUnread returns the number of unread messages addressed to the user.
func (s *MemoryStore) CountUnread(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages {
		if m.ReceiverID == userID && m.ReadAt == nil {
			n++
		}
	}
	return n, nil
}

// --- Notifications ---

// CreateNotification persists a notification.
func (s *MemoryStore) CreateNotification(_ context.Context, n *domain.Notification) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := *n
	created.ID = uuid.NewString()
	created.ReadAt = nil
	created.CreatedAt = s.now()
	s.notifications[created.ID] = &created
	out := created
	return &out, nil
}

// ListNotifications returns the user's notifications, newest first.
func (s *MemoryStore) ListNotifications(_ context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Notification{}
	for _, n := range s.notifications {
		if n.UserID != userID || (unreadOnly && n.ReadAt != nil) {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, limit, 0), nil
}

// MarkNotificationRead marks one of the user's notifications as read.
func (s *MemoryStore) MarkNotificationRead(_ context.Context, userID, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return false, nil
	}
	if n.ReadAt == nil {
		ts := at
		n.ReadAt = &ts
	}
	return true, nil
}

// MarkAllNotificationsRead marks every unread notification as read.
func (s *MemoryStore) MarkAllNotificationsRead(_ context.Context, userID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.notifications {
		if n.UserID == userID && n.ReadAt == nil {
			ts := at
			n.ReadAt = &ts
			count++
		}
	}
	return count, nil
}

// --- Audit Logs ---

// WriteAudit implements port.AuditWriter.
func (s *MemoryStore) WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, domain.AuditLog{
		ID:         uuid.NewString(),
		UserID:     userID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Details:    details,
		IP:         ip,
		UserAgent:  userAgent,
		CreatedAt:  s.now(),
	})
	return nil
}

// ListAuditLogs returns audit entries, newest first.
func (s *MemoryStore) ListAuditLogs(_ context.Context, userID string, limit int, action string) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.AuditLog{}
	for i := len(s.audit) - 1; i >= 0; i-- {
		if action != "" && s.audit[i].Action != action {
			continue
		}
		if userID != "" && s.audit[i].UserID != userID {
			continue
		}
		out = append(out, s.audit[i])
	}
	return paginate(out, limit, 0), nil
}
