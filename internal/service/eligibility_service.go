package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pawsacademy/training-api/internal/models"
	appErrors "github.com/pawsacademy/training-api/pkg/errors"
)

// Vaccines expiring within this horizon produce a warning alongside an
// otherwise eligible result.
const vaccineExpiryWarningWindow = 30 * 24 * time.Hour

type petReader interface {
	FindByID(ctx context.Context, id string) (*models.Pet, error)
}

type vaccinationReader interface {
	ListByPet(ctx context.Context, petID string) ([]models.VaccinationRecord, error)
}

type exclusionRuleReader interface {
	ListExclusionsByCourseType(ctx context.Context, courseTypeID string) ([]models.BehaviorExclusionRule, error)
}

type certificateReader interface {
	ListByPet(ctx context.Context, petID string) ([]models.Certificate, error)
}

// EligibilityInput carries everything Evaluate needs; the function itself
// touches no storage.
type EligibilityInput struct {
	Pet                *models.Pet
	CourseType         *models.CourseType
	CompletedCourseIDs []string
	Vaccinations       []models.VaccinationRecord
	ExclusionRules     []models.BehaviorExclusionRule
	Now                time.Time
}

// Evaluate runs every eligibility check and collects all findings. Checks
// never short-circuit; Eligible is true iff no finding has error severity.
// Safe for concurrent and repeated use.
func Evaluate(in EligibilityInput) models.EligibilityResult {
	var issues []models.EligibilityIssue

	if !in.CourseType.Active {
		issues = append(issues, models.EligibilityIssue{
			Code:     models.IssueCodeCourseInactive,
			Severity: models.SeverityError,
			Message:  fmt.Sprintf("course %q is no longer offered", in.CourseType.Name),
		})
	}

	issues = append(issues, evaluateAge(in)...)
	issues = append(issues, evaluateVaccines(in)...)
	issues = append(issues, evaluatePrerequisites(in)...)
	issues = append(issues, evaluateBehavior(in)...)

	eligible := true
	for _, issue := range issues {
		if issue.Severity == models.SeverityError {
			eligible = false
			break
		}
	}
	return models.EligibilityResult{Eligible: eligible, Issues: issues}
}

func evaluateAge(in EligibilityInput) []models.EligibilityIssue {
	age := in.Pet.AgeInWeeks(in.Now)
	var issues []models.EligibilityIssue
	if age < in.CourseType.MinAgeWeeks {
		issues = append(issues, models.EligibilityIssue{
			Code:     models.IssueCodeTooYoung,
			Severity: models.SeverityError,
			Message:  fmt.Sprintf("pet is %d weeks old; course requires at least %d weeks", age, in.CourseType.MinAgeWeeks),
		})
	}
	if in.CourseType.MaxAgeWeeks != nil && age > *in.CourseType.MaxAgeWeeks {
		issues = append(issues, models.EligibilityIssue{
			Code:     models.IssueCodeTooOld,
			Severity: models.SeverityError,
			Message:  fmt.Sprintf("pet is %d weeks old; course accepts at most %d weeks", age, *in.CourseType.MaxAgeWeeks),
		})
	}
	return issues
}

// evaluateVaccines matches each required vaccine by case-insensitive
// substring against recorded vaccine names. A match only counts while its
// expiry date is strictly in the future.
func evaluateVaccines(in EligibilityInput) []models.EligibilityIssue {
	var issues []models.EligibilityIssue
	for _, required := range in.CourseType.RequiredVaccines {
		needle := strings.ToLower(required)
		var found, valid, expiresSoon bool
		for _, record := range in.Vaccinations {
			if !strings.Contains(strings.ToLower(record.VaccineName), needle) {
				continue
			}
			found = true
			if record.ExpiryDate.After(in.Now) {
				valid = true
				if record.ExpiryDate.Sub(in.Now) <= vaccineExpiryWarningWindow {
					expiresSoon = true
				} else {
					expiresSoon = false
					break
				}
			}
		}
		switch {
		case !found:
			issues = append(issues, models.EligibilityIssue{
				Code:     models.IssueCodeVaccineMissing,
				Severity: models.SeverityError,
				Message:  fmt.Sprintf("no vaccination record for %q", required),
			})
		case !valid:
			issues = append(issues, models.EligibilityIssue{
				Code:     models.IssueCodeVaccineExpired,
				Severity: models.SeverityError,
				Message:  fmt.Sprintf("vaccination %q has expired", required),
			})
		case expiresSoon:
			issues = append(issues, models.EligibilityIssue{
				Code:     models.IssueCodeVaccineExpiresSoon,
				Severity: models.SeverityWarning,
				Message:  fmt.Sprintf("vaccination %q expires within 30 days", required),
			})
		}
	}
	return issues
}

func evaluatePrerequisites(in EligibilityInput) []models.EligibilityIssue {
	completed := make(map[string]bool, len(in.CompletedCourseIDs))
	for _, id := range in.CompletedCourseIDs {
		completed[id] = true
	}

	var issues []models.EligibilityIssue
	for _, prereqID := range in.CourseType.Prerequisites {
		if !completed[prereqID] {
			issues = append(issues, models.EligibilityIssue{
				Code:     models.IssueCodePrerequisite,
				Severity: models.SeverityError,
				Message:  fmt.Sprintf("prerequisite course %s has not been completed", prereqID),
			})
		}
	}
	return issues
}

func evaluateBehavior(in EligibilityInput) []models.EligibilityIssue {
	var issues []models.EligibilityIssue
	for _, rule := range in.ExclusionRules {
		for _, flag := range rule.BlockedFlags {
			if in.Pet.HasFlag(flag) {
				message := rule.Reason
				if message == "" {
					message = fmt.Sprintf("pet behavior flag %q blocks this course", flag)
				}
				issues = append(issues, models.EligibilityIssue{
					Code:     models.IssueCodeBehaviorExclusion,
					Severity: models.SeverityError,
					Message:  message,
				})
				break
			}
		}
	}
	return issues
}

// EligibilityService loads the inputs for Evaluate from storage. Used both
// for UI previews and as the authoritative gate at booking time.
type EligibilityService struct {
	pets         petReader
	vaccinations vaccinationReader
	catalog      seriesCatalogReader
	rules        exclusionRuleReader
	certificates certificateReader
	logger       *zap.Logger
	now          func() time.Time
}

// NewEligibilityService creates a new eligibility service instance.
func NewEligibilityService(pets petReader, vaccinations vaccinationReader, catalog seriesCatalogReader, rules exclusionRuleReader, certificates certificateReader, logger *zap.Logger) *EligibilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EligibilityService{
		pets:         pets,
		vaccinations: vaccinations,
		catalog:      catalog,
		rules:        rules,
		certificates: certificates,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Check evaluates a pet against a course type using the latest committed
// snapshot. Requires no locking.
func (s *EligibilityService) Check(ctx context.Context, petID, courseTypeID string) (*models.EligibilityResult, error) {
	pet, err := s.pets.FindByID(ctx, petID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "pet not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pet")
	}

	courseType, err := s.catalog.FindByID(ctx, courseTypeID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course type")
	}

	vaccinations, err := s.vaccinations.ListByPet(ctx, petID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load vaccination records")
	}

	exclusions, err := s.rules.ListExclusionsByCourseType(ctx, courseTypeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exclusion rules")
	}

	certificates, err := s.certificates.ListByPet(ctx, petID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificates")
	}
	completed := make([]string, 0, len(certificates))
	for _, cert := range certificates {
		completed = append(completed, cert.CourseTypeID)
	}

	result := Evaluate(EligibilityInput{
		Pet:                pet,
		CourseType:         courseType,
		CompletedCourseIDs: completed,
		Vaccinations:       vaccinations,
		ExclusionRules:     exclusions,
		Now:                s.now(),
	})
	return &result, nil
}
