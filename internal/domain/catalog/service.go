package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	tests TestRepository
}

func NewService(tests TestRepository) *Service {
	return &Service{tests: tests}
}

func (s *Service) CreateTest(ctx context.Context, t *Test) error {
	if err := validateTest(t); err != nil {
		return err
	}
	t.Code = strings.ToUpper(strings.TrimSpace(t.Code))
	return s.tests.Create(ctx, t)
}

func (s *Service) GetTest(ctx context.Context, id uuid.UUID) (*Test, error) {
	return s.tests.GetByID(ctx, id)
}

func (s *Service) GetTestByCode(ctx context.Context, code string) (*Test, error) {
	return s.tests.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

func (s *Service) UpdateTest(ctx context.Context, t *Test) error {
	if err := validateTest(t); err != nil {
		return err
	}
	return s.tests.Update(ctx, t)
}

// DeactivateTest marks a test inactive so it no longer appears for ordering.
// Existing results keep their snapshotted reference context.
func (s *Service) DeactivateTest(ctx context.Context, id uuid.UUID) error {
	t, err := s.tests.GetByID(ctx, id)
	if err != nil {
		return err
	}
	t.Active = false
	return s.tests.Update(ctx, t)
}

func (s *Service) ListTests(ctx context.Context, f ListFilter, limit, offset int) ([]*Test, int, error) {
	if f.Category != "" && !f.Category.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown category %q", ErrValidation, f.Category)
	}
	return s.tests.List(ctx, f, limit, offset)
}

func validateTest(t *Test) error {
	if strings.TrimSpace(t.Code) == "" {
		return fmt.Errorf("%w: code is required", ErrValidation)
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !t.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, t.Category)
	}
	if !t.Category.Numeric() && len(t.Ranges) > 0 {
		return fmt.Errorf("%w: narrative category %s cannot carry reference ranges", ErrValidation, t.Category)
	}
	for i, r := range t.Ranges {
		switch r.Gender {
		case "", "all", "male", "female":
		default:
			return fmt.Errorf("%w: range %d has unknown gender %q", ErrValidation, i, r.Gender)
		}
		if r.AgeMin < 0 {
			return fmt.Errorf("%w: range %d has negative age_min", ErrValidation, i)
		}
		if r.AgeMax > 0 && r.AgeMax < r.AgeMin {
			return fmt.Errorf("%w: range %d has age_max below age_min", ErrValidation, i)
		}
		if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			return fmt.Errorf("%w: range %d has min above max", ErrValidation, i)
		}
	}
	return nil
}
