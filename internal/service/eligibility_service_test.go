package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pawsacademy/training-api/internal/models"
)

func issueCodes(result models.EligibilityResult) []string {
	codes := make([]string, 0, len(result.Issues))
	for _, issue := range result.Issues {
		codes = append(codes, issue.Code)
	}
	return codes
}

func TestEvaluateTooYoung(t *testing.T) {
	now := date(2026, time.May, 1)
	result := Evaluate(EligibilityInput{
		Pet:        &models.Pet{BirthDate: now.AddDate(0, 0, -12*7)},
		CourseType: &models.CourseType{Name: "Adolescent Manners", MinAgeWeeks: 16, Active: true},
		Now:        now,
	})

	assert.False(t, result.Eligible)
	assert.Contains(t, issueCodes(result), models.IssueCodeTooYoung)
}

func TestEvaluateCollectsAllIssues(t *testing.T) {
	// Every failing check reports; nothing short-circuits.
	now := date(2026, time.May, 1)
	maxAge := 52
	result := Evaluate(EligibilityInput{
		Pet: &models.Pet{
			BirthDate:     now.AddDate(-3, 0, 0),
			BehaviorFlags: []string{"dog_reactive"},
		},
		CourseType: &models.CourseType{
			Name:             "Agility Foundations",
			MinAgeWeeks:      16,
			MaxAgeWeeks:      &maxAge,
			RequiredVaccines: []string{"Rabies", "Bordetella"},
			Prerequisites:    []string{"ct-basic"},
			Active:           true,
		},
		Vaccinations: []models.VaccinationRecord{
			{VaccineName: "Rabies 3-year", ExpiryDate: now.AddDate(0, 0, -1)},
		},
		ExclusionRules: []models.BehaviorExclusionRule{
			{CourseTypeID: "ct-agility", BlockedFlags: []string{"dog_reactive"}},
		},
		Now: now,
	})

	assert.False(t, result.Eligible)
	codes := issueCodes(result)
	assert.Contains(t, codes, models.IssueCodeTooOld)
	assert.Contains(t, codes, models.IssueCodeVaccineExpired)
	assert.Contains(t, codes, models.IssueCodeVaccineMissing)
	assert.Contains(t, codes, models.IssueCodePrerequisite)
	assert.Contains(t, codes, models.IssueCodeBehaviorExclusion)
}

func TestEvaluateVaccineMatching(t *testing.T) {
	now := date(2026, time.May, 1)
	courseType := &models.CourseType{
		Name:             "Puppy Foundations",
		MinAgeWeeks:      8,
		RequiredVaccines: []string{"rabies"},
		Active:           true,
	}
	pet := &models.Pet{BirthDate: now.AddDate(0, 0, -20*7)}

	// Case-insensitive substring match against the recorded name.
	result := Evaluate(EligibilityInput{
		Pet:        pet,
		CourseType: courseType,
		Vaccinations: []models.VaccinationRecord{
			{VaccineName: "Rabies 3-Year", ExpiryDate: now.AddDate(1, 0, 0)},
		},
		Now: now,
	})
	assert.True(t, result.Eligible)
	assert.Empty(t, result.Issues)

	// Valid but expiring soon: eligible with a warning.
	result = Evaluate(EligibilityInput{
		Pet:        pet,
		CourseType: courseType,
		Vaccinations: []models.VaccinationRecord{
			{VaccineName: "Rabies", ExpiryDate: now.AddDate(0, 0, 10)},
		},
		Now: now,
	})
	assert.True(t, result.Eligible)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, models.IssueCodeVaccineExpiresSoon, result.Issues[0].Code)
	assert.Equal(t, models.SeverityWarning, result.Issues[0].Severity)

	// Expiry exactly now is not strictly in the future.
	result = Evaluate(EligibilityInput{
		Pet:        pet,
		CourseType: courseType,
		Vaccinations: []models.VaccinationRecord{
			{VaccineName: "Rabies", ExpiryDate: now},
		},
		Now: now,
	})
	assert.False(t, result.Eligible)
	assert.Contains(t, issueCodes(result), models.IssueCodeVaccineExpired)
}

func TestEvaluateDeterministic(t *testing.T) {
	now := date(2026, time.May, 1)
	input := EligibilityInput{
		Pet:        &models.Pet{BirthDate: now.AddDate(0, 0, -10*7)},
		CourseType: &models.CourseType{Name: "Puppy Foundations", MinAgeWeeks: 16, Prerequisites: []string{"ct-1"}, Active: true},
		Now:        now,
	}

	first := Evaluate(input)
	second := Evaluate(input)
	assert.Equal(t, first, second)
}

type mockPetReader struct {
	pets map[string]*models.Pet
}

func (m *mockPetReader) FindByID(ctx context.Context, id string) (*models.Pet, error) {
	if p, ok := m.pets[id]; ok {
		return p, nil
	}
	return nil, sql.ErrNoRows
}

type mockVaccinationReader struct {
	records []models.VaccinationRecord
}

func (m *mockVaccinationReader) ListByPet(ctx context.Context, petID string) ([]models.VaccinationRecord, error) {
	return m.records, nil
}

type mockExclusionReader struct {
	rules []models.BehaviorExclusionRule
}

func (m *mockExclusionReader) ListExclusionsByCourseType(ctx context.Context, courseTypeID string) ([]models.BehaviorExclusionRule, error) {
	return m.rules, nil
}

type mockCertificateReader struct {
	certificates []models.Certificate
}

func (m *mockCertificateReader) ListByPet(ctx context.Context, petID string) ([]models.Certificate, error) {
	return m.certificates, nil
}

func TestEligibilityServiceCheck(t *testing.T) {
	now := date(2026, time.May, 1)
	pets := &mockPetReader{pets: map[string]*models.Pet{
		"pet-1": {ID: "pet-1", BirthDate: now.AddDate(0, 0, -30*7)},
	}}
	catalog := &mockCatalogReader{courseTypes: map[string]*models.CourseType{
		"ct-2": {ID: "ct-2", Name: "Intermediate Obedience", MinAgeWeeks: 16, Prerequisites: []string{"ct-1"}, Active: true},
	}}
	certificates := &mockCertificateReader{certificates: []models.Certificate{
		{CourseTypeID: "ct-1", PetID: "pet-1"},
	}}
	svc := NewEligibilityService(pets, &mockVaccinationReader{}, catalog, &mockExclusionReader{}, certificates, zap.NewNop())
	svc.now = func() time.Time { return now }

	result, err := svc.Check(context.Background(), "pet-1", "ct-2")
	require.NoError(t, err)
	assert.True(t, result.Eligible, "completed prerequisite satisfied via certificate")

	_, err = svc.Check(context.Background(), "missing", "ct-2")
	require.Error(t, err)
}
