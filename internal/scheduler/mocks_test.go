package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"brokerdesk/internal/types"
)

// mockClock pins Now to a fixed instant.
type mockClock struct {
	now time.Time
}

func (c *mockClock) Now() time.Time { return c.now }

// mockUserDB is an in-memory user lookup keyed by employee code.
type mockUserDB struct {
	mu    sync.Mutex
	users map[string]*types.User
	err   error
	calls []string
}

func (m *mockUserDB) GetByEmployeeCode(_ context.Context, code string) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, code)
	if m.err != nil {
		return nil, m.err
	}
	return m.users[code], nil
}

// scopeKey flattens a nullable (role, branch) scope for map storage.
func scopeKey(roleID *string, branchID *int64) string {
	role, branch := "-", "-"
	if roleID != nil {
		role = *roleID
	}
	if branchID != nil {
		branch = fmt.Sprintf("%d", *branchID)
	}
	return role + "/" + branch
}

// mockConfigDB is an in-memory fetch config store keyed by scope.
type mockConfigDB struct {
	mu      sync.Mutex
	configs map[string]*types.LeadFetchConfig
	err     error
	lookups []string
}

func (m *mockConfigDB) GetByScope(_ context.Context, roleID *string, branchID *int64) (*types.LeadFetchConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scopeKey(roleID, branchID)
	m.lookups = append(m.lookups, key)
	if m.err != nil {
		return nil, m.err
	}
	return m.configs[key], nil
}

// appendedStory is one recorded audit write.
type appendedStory struct {
	LeadID  int64
	Actor   string
	Message string
}

// mockStoryAppender records audit writes and can fail for chosen leads.
type mockStoryAppender struct {
	mu      sync.Mutex
	stories []appendedStory
	failFor map[int64]error
}

func (m *mockStoryAppender) Append(_ context.Context, leadID int64, actor, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failFor[leadID]; err != nil {
		return err
	}
	m.stories = append(m.stories, appendedStory{LeadID: leadID, Actor: actor, Message: message})
	return nil
}

func (m *mockStoryAppender) forLead(leadID int64) []appendedStory {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []appendedStory
	for _, s := range m.stories {
		if s.LeadID == leadID {
			out = append(out, s)
		}
	}
	return out
}

// mockPublisher records published notification messages.
type mockPublisher struct {
	mu       sync.Mutex
	messages []types.NotificationMessage
	err      error
}

func (m *mockPublisher) PublishNotification(_ context.Context, msg types.NotificationMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

// fakeLeadStore is an in-memory lead and assignment store that evaluates the
// same candidate predicates as the SQL repositories, so rule jobs can be
// exercised end to end against mutable state.
type fakeLeadStore struct {
	mu          sync.Mutex
	leads       map[int64]*types.Lead
	assignments map[int64]*types.LeadAssignment

	openErr    error
	listErr    error
	commitErr  error
	releaseErr map[int64]error

	// onListExpired, when set, runs at the top of ListExpiredConversions
	// with the job's context, before any state is read.
	onListExpired func(ctx context.Context)

	commits   int
	rollbacks int
}

func newFakeLeadStore() *fakeLeadStore {
	return &fakeLeadStore{
		leads:       make(map[int64]*types.Lead),
		assignments: make(map[int64]*types.LeadAssignment),
		releaseErr:  make(map[int64]error),
	}
}

func (s *fakeLeadStore) addLead(lead types.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := lead
	s.leads[l.ID] = &l
}

func (s *fakeLeadStore) addAssignment(a types.LeadAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := a
	s.assignments[cp.ID] = &cp
}

func (s *fakeLeadStore) lead(id int64) types.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.leads[id]
}

func (s *fakeLeadStore) assignmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.assignments)
}

func (s *fakeLeadStore) OpenLeadUnit(context.Context) (LeadUnit, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &fakeLeadUnit{store: s}, nil
}

// fakeLeadUnit applies mutations directly against the backing store. Commit
// and rollback are counted so tests can assert unit discipline.
type fakeLeadUnit struct {
	store *fakeLeadStore
}

func (u *fakeLeadUnit) ListExpiredConversions(ctx context.Context, now time.Time, limit int) ([]types.Lead, error) {
	s := u.store
	if s.onListExpired != nil {
		s.onListExpired(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []types.Lead
	for _, l := range s.leads {
		if l.IsClient || l.IsDeleted || !l.AssignedForConversion {
			continue
		}
		if l.ConversionDeadline == nil || !l.ConversionDeadline.Before(now) {
			continue
		}
		out = append(out, *l)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (u *fakeLeadUnit) ListNeverAssignedBefore(_ context.Context, cutoff time.Time, limit int) ([]types.Lead, error) {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []types.Lead
	for _, l := range s.leads {
		if l.IsClient || l.IsDeleted || l.IsOldLead {
			continue
		}
		if !l.CreatedAt.Before(cutoff) {
			continue
		}
		if l.AssignedToUser != nil || l.ResponseChangedAt != nil || l.LeadResponseID != nil {
			continue
		}
		if s.hasAssignmentLocked(l.ID) {
			continue
		}
		out = append(out, *l)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (u *fakeLeadUnit) ListAssignmentsFetchedBefore(_ context.Context, cutoff time.Time, limit int) ([]types.LeadAssignment, error) {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []types.LeadAssignment
	for _, a := range s.assignments {
		if !a.FetchedAt.Before(cutoff) {
			continue
		}
		out = append(out, *a)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (u *fakeLeadUnit) ListHeldWorkedLeads(_ context.Context, limit int) ([]types.Lead, error) {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []types.Lead
	for _, l := range s.leads {
		if l.IsClient || l.IsDeleted || l.LeadResponseID == nil {
			continue
		}
		if l.AssignedToUser == nil && !l.AssignedForConversion && !s.hasAssignmentLocked(l.ID) {
			continue
		}
		out = append(out, *l)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeLeadStore) hasAssignmentLocked(leadID int64) bool {
	for _, a := range s.assignments {
		if a.LeadID == leadID {
			return true
		}
	}
	return false
}

func (u *fakeLeadUnit) GetAssignment(_ context.Context, leadID int64) (*types.LeadAssignment, error) {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assignments {
		if a.LeadID == leadID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (u *fakeLeadUnit) DeleteAssignment(_ context.Context, id int64) error {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assignments, id)
	return nil
}

func (u *fakeLeadUnit) ReleaseLead(_ context.Context, leadID int64) error {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.releaseErr[leadID]; err != nil {
		return err
	}
	l, ok := s.leads[leadID]
	if !ok {
		return fmt.Errorf("lead %d not found", leadID)
	}
	l.AssignedToUser = nil
	l.AssignedForConversion = false
	l.ConversionDeadline = nil
	return nil
}

func (u *fakeLeadUnit) MarkLeadOld(_ context.Context, leadID int64) error {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return fmt.Errorf("lead %d not found", leadID)
	}
	l.IsOldLead = true
	return nil
}

func (u *fakeLeadUnit) Commit(context.Context) error {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	s.commits++
	return nil
}

func (u *fakeLeadUnit) Rollback(context.Context) error {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollbacks++
	return nil
}

// mockStatsDB returns canned aggregate counts.
type mockStatsDB struct {
	totalLeads       int64
	recentAssigns    int64
	pendingConvs     int64
	convertedToday   int64
	errOn            string
	lastSinceCutoff  time.Time
	lastWindowStart  time.Time
	lastWindowFinish time.Time
}

func (m *mockStatsDB) CountLeads(context.Context) (int64, error) {
	if m.errOn == "leads" {
		return 0, fmt.Errorf("count leads failed")
	}
	return m.totalLeads, nil
}

func (m *mockStatsDB) CountAssignmentsSince(_ context.Context, cutoff time.Time) (int64, error) {
	m.lastSinceCutoff = cutoff
	if m.errOn == "assignments" {
		return 0, fmt.Errorf("count assignments failed")
	}
	return m.recentAssigns, nil
}

func (m *mockStatsDB) CountPendingConversions(_ context.Context, _ time.Time) (int64, error) {
	if m.errOn == "pending" {
		return 0, fmt.Errorf("count pending failed")
	}
	return m.pendingConvs, nil
}

func (m *mockStatsDB) CountClientsConvertedBetween(_ context.Context, from, to time.Time) (int64, error) {
	m.lastWindowStart = from
	m.lastWindowFinish = to
	if m.errOn == "converted" {
		return 0, fmt.Errorf("count converted failed")
	}
	return m.convertedToday, nil
}
