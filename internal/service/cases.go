package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/repository"
)

// CaseService defines desktop case operations performed on behalf of the
// session user.
type CaseService interface {
	// Create validates the input, applies defaults and stores an open case.
	Create(ctx context.Context, actor model.Actor, in model.NewCase) (*model.Case, error)
	// Update applies a non-empty patch.
	Update(ctx context.Context, actor model.Actor, id int64, p model.CasePatch) (*model.Case, error)
	// Close marks the case closed.
	Close(ctx context.Context, actor model.Actor, id int64) (*model.Case, error)
	// Get loads one case.
	Get(ctx context.Context, id int64) (*model.Case, error)
	// Current returns the case the user is working on.
	Current(ctx context.Context, actor model.Actor) (*model.Case, error)
	// History lists the audit trail of a case.
	History(ctx context.Context, id int64) ([]model.CaseHistory, error)
}

type CaseServiceImpl struct {
	repo repository.CaseRepository
}

var _ CaseService = (*CaseServiceImpl)(nil)

// NewCaseService constructs CaseService over the local case store.
func NewCaseService(repo repository.CaseRepository) *CaseServiceImpl {
	return &CaseServiceImpl{repo: repo}
}

// Create validation rules:
// - case_number, customer_name and case_type are required
// - priority defaults to medium and must be known
// - assigned_to defaults to the actor
func (s *CaseServiceImpl) Create(ctx context.Context, actor model.Actor, in model.NewCase) (*model.Case, error) {
	if actor.UserID == 0 {
		return nil, fmt.Errorf("empty actor: %w", errs.ErrUnauthenticated)
	}
	in.CaseNumber = strings.TrimSpace(in.CaseNumber)
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	in.CaseType = strings.TrimSpace(in.CaseType)
	if in.CaseNumber == "" || in.CustomerName == "" || in.CaseType == "" {
		return nil, fmt.Errorf("missing required fields: %w", errs.ErrValidation)
	}
	if in.Priority == "" {
		in.Priority = model.PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, fmt.Errorf("unknown priority %q: %w", in.Priority, errs.ErrValidation)
	}
	if in.AssignedTo == nil {
		uid := actor.UserID
		in.AssignedTo = &uid
	}
	return s.repo.Create(ctx, in, actor.UserID)
}

// Update rejects empty patches, unknown enum values and blanking of required fields.
// Only terminal statuses may be patched; open and in_progress belong to the
// lock coordinator's book-out and release.
func (s *CaseServiceImpl) Update(ctx context.Context, actor model.Actor, id int64, p model.CasePatch) (*model.Case, error) {
	if actor.UserID == 0 {
		return nil, fmt.Errorf("empty actor: %w", errs.ErrUnauthenticated)
	}
	if id <= 0 {
		return nil, fmt.Errorf("bad case id %d: %w", id, errs.ErrValidation)
	}
	if p.Empty() {
		return nil, fmt.Errorf("empty patch: %w", errs.ErrValidation)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return nil, fmt.Errorf("unknown priority %q: %w", *p.Priority, errs.ErrValidation)
	}
	if p.Status != nil && !p.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", *p.Status, errs.ErrValidation)
	}
	if p.Status != nil && !p.Status.Terminal() {
		return nil, fmt.Errorf("status %s is set by book-out or release: %w", *p.Status, errs.ErrInvalidState)
	}
	if blank(p.CustomerName) || blank(p.CaseType) {
		return nil, fmt.Errorf("required field cleared: %w", errs.ErrValidation)
	}
	return s.repo.Update(ctx, id, p, actor.UserID)
}

// Close records the actor as the closer. Closing twice is allowed.
func (s *CaseServiceImpl) Close(ctx context.Context, actor model.Actor, id int64) (*model.Case, error) {
	if id <= 0 {
		return nil, fmt.Errorf("bad case id %d: %w", id, errs.ErrValidation)
	}
	var by *int64
	if actor.UserID != 0 {
		uid := actor.UserID
		by = &uid
	}
	return s.repo.Close(ctx, id, by)
}

func (s *CaseServiceImpl) Get(ctx context.Context, id int64) (*model.Case, error) {
	return s.repo.Get(ctx, id)
}

func (s *CaseServiceImpl) Current(ctx context.Context, actor model.Actor) (*model.Case, error) {
	if actor.UserID == 0 {
		return nil, fmt.Errorf("empty actor: %w", errs.ErrUnauthenticated)
	}
	return s.repo.Current(ctx, actor.UserID)
}

func (s *CaseServiceImpl) History(ctx context.Context, id int64) ([]model.CaseHistory, error) {
	return s.repo.History(ctx, id)
}

func blank(p *string) bool { return p != nil && strings.TrimSpace(*p) == "" }
