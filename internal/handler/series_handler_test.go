package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pawsacademy/training-api/internal/models"
	"github.com/pawsacademy/training-api/internal/service"
	"github.com/pawsacademy/training-api/pkg/response"
)

type seriesRepoStub struct {
	series  map[string]*models.Series
	created *models.Series
}

func (s *seriesRepoStub) List(ctx context.Context, filter models.SeriesFilter) ([]models.Series, int, error) {
	out := make([]models.Series, 0, len(s.series))
	for _, sr := range s.series {
		out = append(out, *sr)
	}
	return out, len(out), nil
}

func (s *seriesRepoStub) FindByID(ctx context.Context, id string) (*models.Series, error) {
	sr, ok := s.series[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return sr, nil
}

func (s *seriesRepoStub) Create(ctx context.Context, series *models.Series) error {
	series.ID = fmt.Sprintf("ser-%d", len(s.series)+1)
	s.series[series.ID] = series
	s.created = series
	return nil
}

func (s *seriesRepoStub) UpdateStatus(ctx context.Context, id string, status models.SeriesStatus) error {
	s.series[id].Status = status
	return nil
}

type sessionRepoStub struct {
	replaced []models.Session
	started  bool
}

func (s *sessionRepoStub) ListBySeries(ctx context.Context, seriesID string) ([]models.Session, error) {
	return s.replaced, nil
}

func (s *sessionRepoStub) AnyStarted(ctx context.Context, seriesID string, now time.Time) (bool, error) {
	return s.started, nil
}

func (s *sessionRepoStub) ReplaceForSeries(ctx context.Context, seriesID string, sessions []models.Session) error {
	s.replaced = sessions
	return nil
}

type catalogStub struct {
	courseTypes map[string]*models.CourseType
}

func (s *catalogStub) FindByID(ctx context.Context, id string) (*models.CourseType, error) {
	ct, ok := s.courseTypes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return ct, nil
}

func newSeriesHandlerFixture() (*SeriesHandler, *seriesRepoStub, *sessionRepoStub) {
	repo := &seriesRepoStub{series: map[string]*models.Series{}}
	sessions := &sessionRepoStub{}
	catalog := &catalogStub{courseTypes: map[string]*models.CourseType{
		"ct-basic": {ID: "ct-basic", Name: "Basic Obedience", DefaultWeeks: 6, Active: true},
	}}
	svc := service.NewSeriesService(repo, sessions, catalog, validator.New(), zap.NewNop())
	return NewSeriesHandler(svc), repo, sessions
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope
}

func TestSeriesHandlerGetNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _, _ := newSeriesHandlerFixture()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/series/ser-missing", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "ser-missing"}}

	h.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
	envelope := decodeEnvelope(t, w)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "NOT_FOUND", envelope.Error.Code)
}

func TestSeriesHandlerCreateInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, repo, _ := newSeriesHandlerFixture()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/series", bytes.NewBufferString(`{"name":"Saturday Basics"`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	h.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, repo.created)
}

func TestSeriesHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, repo, sessions := newSeriesHandlerFixture()

	payload := service.CreateSeriesRequest{
		CourseTypeID: "ct-basic",
		Name:         "Saturday Basics",
		StartDate:    time.Date(2026, time.April, 4, 0, 0, 0, 0, time.UTC),
		DayOfWeek:    6,
		StartTime:    "10:00",
		EndTime:      "11:00",
		InstructorID: "staff-1",
		MaxCapacity:  8,
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/series", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, repo.created)
	// Weeks fall back to the course type default when the payload omits them.
	assert.Equal(t, 6, repo.created.NumberOfWeeks)
	assert.Len(t, sessions.replaced, 6)

	envelope := decodeEnvelope(t, w)
	require.Nil(t, envelope.Error)
	require.NotNil(t, envelope.Data)
}

func TestSeriesHandlerRegenerateAfterStart(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, repo, sessions := newSeriesHandlerFixture()
	repo.series["ser-1"] = &models.Series{
		ID:            "ser-1",
		CourseTypeID:  "ct-basic",
		StartDate:     time.Date(2026, time.April, 4, 0, 0, 0, 0, time.UTC),
		DayOfWeek:     6,
		NumberOfWeeks: 6,
		Status:        models.SeriesStatusInProgress,
	}
	sessions.started = true

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/series/ser-1/sessions/regenerate", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "ser-1"}}

	h.Regenerate(c)
	require.Equal(t, http.StatusPreconditionFailed, w.Code)
	envelope := decodeEnvelope(t, w)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "PRECONDITION_FAILED", envelope.Error.Code)
}

func TestSeriesHandlerUpdateStatusInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _, _ := newSeriesHandlerFixture()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPatch, "/series/ser-1/status", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "ser-1"}}

	h.UpdateStatus(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
