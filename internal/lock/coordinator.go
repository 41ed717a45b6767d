// Package lock implements the case book-out rules. The same Coordinator runs on
// the desktop over the local store and on the server over PostgreSQL; the only
// cross-process guarantee is the store's conditional update.
package lock

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/model"
	"github.com/and161185/caseflow/internal/repository"
)

// HintHeld is returned to a caller that lost a book-out race.
const HintHeld = "pick a different case"

// maxAttempts bounds re-tries when a case is released between the guarded
// update and the re-read.
const maxAttempts = 3

// Coordinator applies book-out and release against a CaseLocker.
type Coordinator struct {
	store repository.CaseLocker
	now   func() time.Time
	log   *zap.Logger
}

// New constructs a Coordinator. A nil logger disables logging.
func New(store repository.CaseLocker, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{store: store, now: time.Now, log: log}
}

// BookOut assigns the case to userID. Losing to another holder or hitting a
// terminal case is reported in the result, not as an error.
func (c *Coordinator) BookOut(ctx context.Context, caseID, userID int64) (model.BookOutResult, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ok, err := c.store.BookOut(ctx, caseID, userID, c.now())
		if err != nil {
			return model.BookOutResult{}, fmt.Errorf("book out %d: %w", caseID, err)
		}
		cur, err := c.store.Get(ctx, caseID)
		if err != nil {
			return model.BookOutResult{}, err
		}
		if ok {
			c.log.Info("case booked out", zap.Int64("case_id", caseID), zap.Int64("user_id", userID))
			return model.BookOutResult{Case: cur}, nil
		}

		switch {
		case cur.BookedOutBy != nil && *cur.BookedOutBy == userID:
			return model.BookOutResult{Case: cur}, nil
		case cur.Status.Terminal():
			return model.BookOutResult{
				Conflict: true,
				Status:   cur.Status,
				Hint:     fmt.Sprintf("case is %s; %s", cur.Status, HintHeld),
			}, nil
		case cur.BookedOutBy != nil:
			c.log.Debug("book out conflict",
				zap.Int64("case_id", caseID), zap.Int64("user_id", userID), zap.Int64("held_by", *cur.BookedOutBy))
			return model.BookOutResult{Conflict: true, HeldBy: cur.BookedOutBy, Hint: HintHeld}, nil
		}
		// released in between; try again
	}
	return model.BookOutResult{}, fmt.Errorf("book out %d: lock contended: %w", caseID, errs.ErrInvalidState)
}

// Release drops the lock. Managers and admins may release any holder.
func (c *Coordinator) Release(ctx context.Context, caseID int64, actor model.Actor) (*model.Case, error) {
	ok, err := c.store.Release(ctx, caseID, actor.UserID, actor.Role.Elevated(), c.now())
	if err != nil {
		return nil, fmt.Errorf("release %d: %w", caseID, err)
	}
	cur, err := c.store.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if ok {
		c.log.Info("case released", zap.Int64("case_id", caseID), zap.Int64("user_id", actor.UserID))
		return cur, nil
	}
	if cur.BookedOutBy == nil {
		return nil, fmt.Errorf("case %d is not booked out: %w", caseID, errs.ErrInvalidState)
	}
	return nil, fmt.Errorf("case %d is held by %d: %w", caseID, *cur.BookedOutBy, errs.ErrUnauthorized)
}

// Allocated splits the user's active cases into available and booked out,
// keeping the store's priority order.
func (c *Coordinator) Allocated(ctx context.Context, userID int64) (model.Allocation, error) {
	cases, err := c.store.Allocated(ctx, userID)
	if err != nil {
		return model.Allocation{}, err
	}
	out := model.Allocation{Available: []model.Case{}, BookedOut: []model.Case{}}
	for _, cs := range cases {
		if cs.BookedOutBy != nil {
			out.BookedOut = append(out.BookedOut, cs)
		} else {
			out.Available = append(out.Available, cs)
		}
	}
	return out, nil
}
