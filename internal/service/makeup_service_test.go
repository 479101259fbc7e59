package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pawsacademy/training-api/internal/models"
	"github.com/pawsacademy/training-api/pkg/jobs"
)

type mockMakeupRepo struct {
	mu             sync.Mutex
	credits        map[string]*models.MakeupCredit
	sessions       map[string]*models.MakeupSession
	byAttendance   map[string]*models.MakeupSession
	createdCredits int
	seq            int
}

func newMockMakeupRepo() *mockMakeupRepo {
	return &mockMakeupRepo{
		credits:      make(map[string]*models.MakeupCredit),
		sessions:     make(map[string]*models.MakeupSession),
		byAttendance: make(map[string]*models.MakeupSession),
	}
}

func (m *mockMakeupRepo) FindCreditByEnrollment(ctx context.Context, enrollmentID string) (*models.MakeupCredit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.credits[enrollmentID]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockMakeupRepo) CreateCredit(ctx context.Context, credit *models.MakeupCredit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createdCredits++
	credit.ID = fmt.Sprintf("cred-%d", m.createdCredits)
	m.credits[credit.EnrollmentID] = credit
	return nil
}

func (m *mockMakeupRepo) SpendCredit(ctx context.Context, enrollmentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credits[enrollmentID]
	if !ok || c.CreditsAvailable-c.CreditsUsed <= 0 {
		return false, nil
	}
	c.CreditsUsed++
	return true, nil
}

func (m *mockMakeupRepo) CreateSession(ctx context.Context, session *models.MakeupSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	session.ID = fmt.Sprintf("mk-%d", m.seq)
	m.sessions[session.ID] = session
	m.byAttendance[session.MissedAttendanceID] = session
	return nil
}

func (m *mockMakeupRepo) FindSessionByID(ctx context.Context, id string) (*models.MakeupSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockMakeupRepo) FindOpenByAttendance(ctx context.Context, attendanceID string) (*models.MakeupSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byAttendance[attendanceID]; ok && s.Status.Open() {
		copied := *s
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockMakeupRepo) ListSessionsByEnrollment(ctx context.Context, enrollmentID string) ([]models.MakeupSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.MakeupSession
	for _, s := range m.sessions {
		if s.EnrollmentID == enrollmentID {
			list = append(list, *s)
		}
	}
	return list, nil
}

func (m *mockMakeupRepo) UpdateSessionSchedule(ctx context.Context, id string, date time.Time, startTime, trainerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.Status = models.MakeupStatusScheduled
	s.ScheduledDate = &date
	s.ScheduledTime = &startTime
	s.TrainerID = &trainerID
	return nil
}

func (m *mockMakeupRepo) UpdateSessionStatus(ctx context.Context, id string, status models.MakeupSessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.Status = status
	return nil
}

type mockPricingReader struct {
	rule *models.MakeupPricingRule
}

func (m *mockPricingReader) GetPricingRule(ctx context.Context) (*models.MakeupPricingRule, error) {
	if m.rule == nil {
		return nil, sql.ErrNoRows
	}
	return m.rule, nil
}

type mockMakeupEnrollments struct {
	mu          sync.Mutex
	enrollments map[string]*models.Enrollment
}

func (m *mockMakeupEnrollments) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.enrollments[id]; ok {
		copied := *e
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockMakeupEnrollments) ApplyMakeupProgress(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	e.SessionsAttended++
	e.Progress = models.ProgressPercent(e.SessionsAttended, e.TotalSessions)
	return nil
}

func (m *mockMakeupEnrollments) get(id string) models.Enrollment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.enrollments[id]
}

type mockMakeupAttendance struct {
	records map[string]*models.Attendance
}

func (m *mockMakeupAttendance) FindByID(ctx context.Context, id string) (*models.Attendance, error) {
	if a, ok := m.records[id]; ok {
		return a, nil
	}
	return nil, sql.ErrNoRows
}

type mockMakeupSeries struct {
	series map[string]*models.Series
}

func (m *mockMakeupSeries) FindByID(ctx context.Context, id string) (*models.Series, error) {
	if s, ok := m.series[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

type makeupFixture struct {
	svc         *MakeupService
	repo        *mockMakeupRepo
	pricing     *mockPricingReader
	enrollments *mockMakeupEnrollments
	attendance  *mockMakeupAttendance
	gateway     *stubGateway
}

func newMakeupFixture(t *testing.T, cfg MakeupServiceConfig) *makeupFixture {
	t.Helper()

	f := &makeupFixture{
		repo:    newMockMakeupRepo(),
		pricing: &mockPricingReader{},
		enrollments: &mockMakeupEnrollments{enrollments: map[string]*models.Enrollment{
			"enr-1": {ID: "enr-1", SeriesID: "ser-1", OwnerID: "own-1", SessionsAttended: 3, CurrentSessionNumber: 5, TotalSessions: 6},
		}},
		attendance: &mockMakeupAttendance{records: map[string]*models.Attendance{
			"att-1": {ID: "att-1", EnrollmentID: "enr-1", SessionNumber: 4, Status: models.AttendanceStatusAbsent},
			"att-2": {ID: "att-2", EnrollmentID: "enr-1", SessionNumber: 3, Status: models.AttendanceStatusPresent},
		}},
		gateway: &stubGateway{},
	}

	dispatcher := NewDispatcher(f.gateway, NewLogNotifier(zap.NewNop()), jobs.QueueConfig{Workers: 1, BufferSize: 16}, zap.NewNop())
	dispatcher.Start(context.Background())
	t.Cleanup(dispatcher.Stop)

	series := &mockMakeupSeries{series: map[string]*models.Series{
		"ser-1": {ID: "ser-1", EnrollmentRules: models.EnrollmentRules{FullPaymentCents: 30000}},
	}}
	f.svc = NewMakeupService(f.repo, f.pricing, f.enrollments, f.attendance, series, dispatcher, nil, validator.New(), zap.NewNop(), cfg)
	return f
}

func (f *makeupFixture) chargeCount() int {
	f.gateway.mu.Lock()
	defer f.gateway.mu.Unlock()
	return len(f.gateway.charges)
}

func absentAttendance(id string) *models.Attendance {
	return &models.Attendance{ID: id, EnrollmentID: "enr-1", SessionNumber: 4, Status: models.AttendanceStatusAbsent}
}

func makeupEnrollment() *models.Enrollment {
	return &models.Enrollment{ID: "enr-1", SeriesID: "ser-1", OwnerID: "own-1", TotalSessions: 6}
}

func TestProvisionCreditsIdempotent(t *testing.T) {
	f := newMakeupFixture(t, MakeupServiceConfig{DefaultCredits: 3})

	require.NoError(t, f.svc.ProvisionCredits(context.Background(), "enr-1", "ser-1"))
	credit, err := f.svc.Credits(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, 3, credit.CreditsAvailable)
	assert.Equal(t, 0, credit.CreditsUsed)

	require.NoError(t, f.svc.ProvisionCredits(context.Background(), "enr-1", "ser-1"))
	assert.Equal(t, 1, f.repo.createdCredits, "existing ledger is left untouched")
}

func TestOnMissedAttendanceSpendsCredit(t *testing.T) {
	f := newMakeupFixture(t, MakeupServiceConfig{DefaultCredits: 2})
	f.pricing.rule = &models.MakeupPricingRule{Kind: models.MakeupPricingFixed, AmountCents: 1500}
	require.NoError(t, f.svc.ProvisionCredits(context.Background(), "enr-1", "ser-1"))

	session, err := f.svc.OnMissedAttendance(context.Background(), makeupEnrollment(), absentAttendance("att-1"))
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, models.MakeupStatusPending, session.Status)
	assert.Equal(t, int64(1500), session.PriceCents)
	assert.Equal(t, "att-1", session.MissedAttendanceID)

	credit, err := f.svc.Credits(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, 1, credit.Remaining(time.Now().UTC()))
}

func TestOnMissedAttendanceDedup(t *testing.T) {
	f := newMakeupFixture(t, MakeupServiceConfig{DefaultCredits: 2})
	require.NoError(t, f.svc.ProvisionCredits(context.Background(), "enr-1", "ser-1"))

	first, err := f.svc.OnMissedAttendance(context.Background(), makeupEnrollment(), absentAttendance("att-1"))
	require.NoError(t, err)
	second, err := f.svc.OnMissedAttendance(context.Background(), makeupEnrollment(), absentAttendance("att-1"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "an open makeup for the same absence is reused")

	credit, err := f.svc.Credits(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, 1, credit.CreditsUsed)
}

func TestOnMissedAttendanceExhaustedLedger(t *testing.T) {
	f := newMakeupFixture(t, MakeupServiceConfig{DefaultCredits: 1})
	require.NoError(t, f.svc.ProvisionCredits(context.Background(), "enr-1", "ser-1"))

	session, err := f.svc.OnMissedAttendance(context.Background(), makeupEnrollment(), absentAttendance("att-1"))
	require.NoError(t, err)
	require.NotNil(t, session)

	session, err = f.svc.OnMissedAttendance(context.Background(), makeupEnrollment(), absentAttendance("att-3"))
	require.NoError(t, err)
	assert.Nil(t, session, "an exhausted ledger produces no session")
}

func TestOnMissedAttendanceExpiredLedger(t *testing.T) {
	f := newMakeupFixture(t, MakeupServiceConfig{DefaultCredits: 2})
	expired := time.Now().UTC().Add(-time.Hour)
	f.repo.credits["enr-1"] = &models.MakeupCredit{ID: "cred-1", EnrollmentID: "enr-1", CreditsAvailable: 2, ExpiresAt: &expired}

	session, err := f.svc.OnMissedAttendance(context.Background(), makeupEnrollment(), absentAttendance("att-1"))
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestOnMissedAttendancePercentagePricing(t *testing.T) {
	f := newMakeupFixture(t, MakeupServiceConfig{DefaultCredits: 2})
	f.pricing.rule = &models.MakeupPricingRule{Kind: models.MakeupPricingPercentage, PercentageOfSeries: 0.25}
	require.NoError(t, f.svc.ProvisionCredits(context.Background(), "enr-1", "ser-1"))

	session, err := f.svc.OnMissedAttendance(context.Background(), makeupEnrollment(), absentAttendance("att-1"))
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, int64(7500), session.PriceCents, "25% of the series full payment")
}

func TestOnMissedAttendanceDefaultPricing(t *testing.T) {
	// No facility rule configured: config defaults apply.
	f := newMakeupFixture(t, MakeupServiceConfig{DefaultCredits: 2, DefaultPricingKind: "per_session", DefaultAmountCents: 2000})
	require.NoError(t, f.svc.ProvisionCredits(context.Background(), "enr-1", "ser-1"))

	session, err := f.svc.OnMissedAttendance(context.Background(), makeupEnrollment(), absentAttendance("att-1"))
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, int64(2000), session.PriceCents)
}

func TestMakeupServiceRequest(t *testing.T) {
	f := newMakeupFixture(t, MakeupServiceConfig{DefaultCredits: 2})
	require.NoError(t, f.svc.ProvisionCredits(context.Background(), "enr-1", "ser-1"))

	// Only missed sessions qualify.
	_, err := f.svc.Request(context.Background(), "enr-1", "att-2")
	require.Error(t, err)

	session, err := f.svc.Request(context.Background(), "enr-1", "att-1")
	require.NoError(t, err)
	assert.Equal(t, models.MakeupStatusPending, session.Status)

	_, err = f.svc.Request(context.Background(), "enr-1", "missing")
	require.Error(t, err)
}

func TestMakeupServiceSchedule(t *testing.T) {
	f := newMakeupFixture(t, MakeupServiceConfig{DefaultCredits: 2})
	f.pricing.rule = &models.MakeupPricingRule{Kind: models.MakeupPricingFixed, AmountCents: 1500}
	require.NoError(t, f.svc.ProvisionCredits(context.Background(), "enr-1", "ser-1"))
	created, err := f.svc.OnMissedAttendance(context.Background(), makeupEnrollment(), absentAttendance("att-1"))
	require.NoError(t, err)

	scheduled, err := f.svc.Schedule(context.Background(), created.ID, ScheduleMakeupRequest{
		Date:      date(2026, time.March, 20),
		StartTime: "14:00",
		TrainerID: "staff-2",
	})
	require.NoError(t, err)
	assert.Equal(t, models.MakeupStatusScheduled, scheduled.Status)
	require.NotNil(t, scheduled.TrainerID)
	assert.Equal(t, "staff-2", *scheduled.TrainerID)

	// The frozen price is charged asynchronously once scheduling commits.
	assert.Eventually(t, func() bool { return f.chargeCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, ChargeKindMakeup, f.gateway.charges[0].Kind)
	assert.Equal(t, int64(1500), f.gateway.charges[0].AmountCents)

	// Already scheduled: cannot be scheduled twice.
	_, err = f.svc.Schedule(context.Background(), created.ID, ScheduleMakeupRequest{
		Date: date(2026, time.March, 21), StartTime: "15:00", TrainerID: "staff-3",
	})
	require.Error(t, err)
}

func TestMakeupServiceComplete(t *testing.T) {
	f := newMakeupFixture(t, MakeupServiceConfig{DefaultCredits: 2})
	require.NoError(t, f.svc.ProvisionCredits(context.Background(), "enr-1", "ser-1"))
	created, err := f.svc.OnMissedAttendance(context.Background(), makeupEnrollment(), absentAttendance("att-1"))
	require.NoError(t, err)

	// Pending sessions must be scheduled first.
	_, err = f.svc.Complete(context.Background(), created.ID)
	require.Error(t, err)

	_, err = f.svc.Schedule(context.Background(), created.ID, ScheduleMakeupRequest{
		Date: date(2026, time.March, 20), StartTime: "14:00", TrainerID: "staff-2",
	})
	require.NoError(t, err)

	completed, err := f.svc.Complete(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MakeupStatusCompleted, completed.Status)

	// Retroactive credit: 3 attended becomes 4 of 6.
	enrollment := f.enrollments.get("enr-1")
	assert.Equal(t, 4, enrollment.SessionsAttended)
	assert.Equal(t, 67, enrollment.Progress)
}

func TestMakeupServiceCompleteConcurrent(t *testing.T) {
	f := newMakeupFixture(t, MakeupServiceConfig{DefaultCredits: 2})
	require.NoError(t, f.svc.ProvisionCredits(context.Background(), "enr-1", "ser-1"))

	first, err := f.svc.OnMissedAttendance(context.Background(), makeupEnrollment(), absentAttendance("att-1"))
	require.NoError(t, err)
	second, err := f.svc.OnMissedAttendance(context.Background(), makeupEnrollment(), absentAttendance("att-3"))
	require.NoError(t, err)

	for _, id := range []string{first.ID, second.ID} {
		_, err := f.svc.Schedule(context.Background(), id, ScheduleMakeupRequest{
			Date: date(2026, time.March, 20), StartTime: "14:00", TrainerID: "staff-2",
		})
		require.NoError(t, err)
	}

	// Both makeups finish at once; each must land in the attendance count.
	var wg sync.WaitGroup
	for _, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.Complete(context.Background(), id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	enrollment := f.enrollments.get("enr-1")
	assert.Equal(t, 5, enrollment.SessionsAttended)
	assert.Equal(t, 83, enrollment.Progress)
}

func TestMakeupServiceCancelKeepsSpentCredit(t *testing.T) {
	f := newMakeupFixture(t, MakeupServiceConfig{DefaultCredits: 2})
	require.NoError(t, f.svc.ProvisionCredits(context.Background(), "enr-1", "ser-1"))
	created, err := f.svc.OnMissedAttendance(context.Background(), makeupEnrollment(), absentAttendance("att-1"))
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MakeupStatusCancelled, cancelled.Status)

	credit, err := f.svc.Credits(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, 1, credit.CreditsUsed, "cancelling does not refund the credit")

	_, err = f.svc.Cancel(context.Background(), created.ID)
	require.Error(t, err, "closed sessions stay closed")
}
