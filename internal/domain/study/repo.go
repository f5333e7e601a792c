package study

import (
	"context"

	"github.com/google/uuid"
)

// Guard is the prior state a conditional write is checked against.
type Guard struct {
	Version    int64
	Status     Status
	AssignedTo *uuid.UUID
}

// GuardOf captures the guard for the snapshot s.
func GuardOf(s *Study) Guard {
	return Guard{Version: s.Version, Status: s.WorkflowStatus, AssignedTo: s.AssignedTo()}
}

// Matches reports whether s still satisfies the guard.
func (g Guard) Matches(s *Study) bool {
	if s.Version != g.Version || s.WorkflowStatus != g.Status {
		return false
	}
	cur := s.AssignedTo()
	switch {
	case cur == nil && g.AssignedTo == nil:
		return true
	case cur == nil || g.AssignedTo == nil:
		return false
	}
	return *cur == *g.AssignedTo
}

type StudyRepository interface {
	// Create inserts a new study with its seeded ledger. It fails with
	// ErrAlreadyExists when the study instance UID is taken.
	Create(ctx context.Context, s *Study) error
	GetByID(ctx context.Context, id uuid.UUID) (*Study, error)
	GetByUID(ctx context.Context, uid string) (*Study, error)
	History(ctx context.Context, id uuid.UUID) ([]StatusEntry, error)
	// CompareAndSwap stores next only if the stored row still satisfies
	// guard, appending the given ledger entries in the same unit of work.
	// It returns ErrConcurrentModification when the guard no longer holds
	// and ErrNotFound when the row is gone.
	CompareAndSwap(ctx context.Context, next *Study, guard Guard, appended []StatusEntry) error
}
