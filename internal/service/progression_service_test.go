package service

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pawsacademy/training-api/internal/models"
	appErrors "github.com/pawsacademy/training-api/pkg/errors"
	"github.com/pawsacademy/training-api/pkg/export"
	"github.com/pawsacademy/training-api/pkg/jobs"
	"github.com/pawsacademy/training-api/pkg/storage"
)

type mockCertificateRepo struct {
	mu           sync.Mutex
	byID         map[string]*models.Certificate
	byEnrollment map[string]*models.Certificate
	lastSerial   int
	created      int
	seq          int
}

func newMockCertificateRepo() *mockCertificateRepo {
	return &mockCertificateRepo{
		byID:         make(map[string]*models.Certificate),
		byEnrollment: make(map[string]*models.Certificate),
	}
}

func (m *mockCertificateRepo) Create(ctx context.Context, certificate *models.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
	m.seq++
	certificate.ID = fmt.Sprintf("cert-%d", m.seq)
	m.byID[certificate.ID] = certificate
	m.byEnrollment[certificate.EnrollmentID] = certificate
	return nil
}

func (m *mockCertificateRepo) FindByID(ctx context.Context, id string) (*models.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byID[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCertificateRepo) FindByEnrollment(ctx context.Context, enrollmentID string) (*models.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byEnrollment[enrollmentID]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCertificateRepo) ListByPet(ctx context.Context, petID string) ([]models.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.Certificate
	for _, c := range m.byID {
		if c.PetID == petID {
			list = append(list, *c)
		}
	}
	return list, nil
}

func (m *mockCertificateRepo) NextSerialForDate(ctx context.Context, date time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSerial++
	return m.lastSerial, nil
}

type mockProgressionCatalog struct {
	courseTypes []models.CourseType
}

func (m *mockProgressionCatalog) FindByID(ctx context.Context, id string) (*models.CourseType, error) {
	for i := range m.courseTypes {
		if m.courseTypes[i].ID == id {
			return &m.courseTypes[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockProgressionCatalog) ListActive(ctx context.Context) ([]models.CourseType, error) {
	return m.courseTypes, nil
}

type noopProgressionCache struct{}

func (noopProgressionCache) Get(ctx context.Context, key string, dest interface{}) error {
	return appErrors.ErrCacheMiss
}

func (noopProgressionCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return nil
}

func (noopProgressionCache) DeleteByPattern(ctx context.Context, pattern string) error { return nil }

type progressionFixture struct {
	svc          *ProgressionService
	certificates *mockCertificateRepo
	catalog      *mockProgressionCatalog
}

func newProgressionFixture(t *testing.T) *progressionFixture {
	t.Helper()

	f := &progressionFixture{
		certificates: newMockCertificateRepo(),
		catalog: &mockProgressionCatalog{courseTypes: []models.CourseType{
			{ID: "ct-basic", Name: "Basic Obedience", Active: true},
			{ID: "ct-intermediate", Name: "Intermediate Obedience", Prerequisites: []string{"ct-basic"}, Active: true},
			{ID: "ct-advanced", Name: "Advanced Obedience", Prerequisites: []string{"ct-basic", "ct-intermediate"}, Active: true},
		}},
	}

	pets := &mockPetReader{pets: map[string]*models.Pet{
		"pet-1": {ID: "pet-1", Name: "Biscuit"},
	}}
	series := &mockMakeupSeries{series: map[string]*models.Series{
		"ser-1": {ID: "ser-1", CourseTypeID: "ct-basic", Name: "Saturday Basics", InstructorID: "staff-1"},
	}}

	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)

	dispatcher := NewDispatcher(NewLogPaymentGateway(zap.NewNop()), NewLogNotifier(zap.NewNop()), jobs.QueueConfig{Workers: 1, BufferSize: 16}, zap.NewNop())
	dispatcher.Start(context.Background())
	t.Cleanup(dispatcher.Stop)

	f.svc = NewProgressionService(f.certificates, f.catalog, pets, series, noopProgressionCache{},
		export.NewPDFExporter(), files, signer, dispatcher, nil, zap.NewNop(),
		ProgressionServiceConfig{CacheEnabled: false})
	f.svc.now = func() time.Time { return date(2026, time.March, 1) }
	return f
}

func completedEnrollment(id string) *models.Enrollment {
	return &models.Enrollment{
		ID:       id,
		SeriesID: "ser-1",
		PetID:    "pet-1",
		OwnerID:  "own-1",
		Status:   models.EnrollmentStatusCompleted,
	}
}

func TestOnEnrollmentCompletedNumbering(t *testing.T) {
	f := newProgressionFixture(t)

	first, err := f.svc.OnEnrollmentCompleted(context.Background(), completedEnrollment("enr-1"))
	require.NoError(t, err)
	assert.Equal(t, "PA-20260301-0001", first.CertificateNumber)

	second, err := f.svc.OnEnrollmentCompleted(context.Background(), completedEnrollment("enr-2"))
	require.NoError(t, err)
	assert.Equal(t, "PA-20260301-0002", second.CertificateNumber)
}

func TestOnEnrollmentCompletedConcurrentNumbering(t *testing.T) {
	f := newProgressionFixture(t)

	// Two enrollments finish at the same moment; the serial allocator must
	// hand each issuer a distinct number.
	const issuers = 8
	var wg sync.WaitGroup
	for i := 0; i < issuers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.OnEnrollmentCompleted(context.Background(), completedEnrollment(fmt.Sprintf("enr-%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	f.certificates.mu.Lock()
	defer f.certificates.mu.Unlock()
	seen := make(map[string]bool, issuers)
	for _, c := range f.certificates.byID {
		assert.False(t, seen[c.CertificateNumber], "duplicate certificate number %s", c.CertificateNumber)
		seen[c.CertificateNumber] = true
	}
	assert.Len(t, seen, issuers)
}

func TestOnEnrollmentCompletedIdempotent(t *testing.T) {
	f := newProgressionFixture(t)

	first, err := f.svc.OnEnrollmentCompleted(context.Background(), completedEnrollment("enr-1"))
	require.NoError(t, err)
	again, err := f.svc.OnEnrollmentCompleted(context.Background(), completedEnrollment("enr-1"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, f.certificates.created, "re-running completion never duplicates the certificate")
}

func TestOnEnrollmentCompletedUnlocks(t *testing.T) {
	f := newProgressionFixture(t)

	// Completing the basic course unlocks intermediate but not advanced,
	// which still needs the intermediate certificate.
	certificate, err := f.svc.OnEnrollmentCompleted(context.Background(), completedEnrollment("enr-1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ct-intermediate"}, []string(certificate.UnlockedNextCourseIDs))
}

func TestGetProgression(t *testing.T) {
	f := newProgressionFixture(t)
	_, err := f.svc.OnEnrollmentCompleted(context.Background(), completedEnrollment("enr-1"))
	require.NoError(t, err)

	progression, err := f.svc.GetProgression(context.Background(), "pet-1")
	require.NoError(t, err)
	require.Len(t, progression, 3)

	byCourse := make(map[string]models.CourseProgression, len(progression))
	for _, entry := range progression {
		byCourse[entry.CourseTypeID] = entry
	}

	assert.Equal(t, models.ProgressionStatusCompleted, byCourse["ct-basic"].Status)
	require.NotNil(t, byCourse["ct-basic"].CertificateID)

	assert.Equal(t, models.ProgressionStatusUnlocked, byCourse["ct-intermediate"].Status)

	assert.Equal(t, models.ProgressionStatusLocked, byCourse["ct-advanced"].Status)
	assert.Equal(t, []string{"ct-intermediate"}, byCourse["ct-advanced"].MissingPrerequisites)
}

func TestGetProgressionUnknownPet(t *testing.T) {
	f := newProgressionFixture(t)

	_, err := f.svc.GetProgression(context.Background(), "missing")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestCertificateDownloadRoundTrip(t *testing.T) {
	f := newProgressionFixture(t)
	certificate, err := f.svc.OnEnrollmentCompleted(context.Background(), completedEnrollment("enr-1"))
	require.NoError(t, err)

	token, expiresAt, err := f.svc.DownloadLink(context.Background(), certificate.ID)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	path, err := f.svc.ResolveDownload(context.Background(), token)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0), "the rendered PDF is on disk")

	// The PDF renders once; a second link reuses the stored file.
	_, _, err = f.svc.DownloadLink(context.Background(), certificate.ID)
	require.NoError(t, err)

	_, err = f.svc.ResolveDownload(context.Background(), "not-a-token")
	require.Error(t, err)
}

func TestDownloadLinkUnknownCertificate(t *testing.T) {
	f := newProgressionFixture(t)

	_, _, err := f.svc.DownloadLink(context.Background(), "missing")
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}
