package study

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrAlreadyExists          = errors.New("already exists")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrNotAssignedToCaller    = errors.New("study is not assigned to caller")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrUnknownStatus          = errors.New("unknown workflow status")
	ErrNoteRequired           = errors.New("note is required")
	ErrInvalidInput           = errors.New("invalid input")
)

// TransitionError reports a move the workflow graph does not allow.
type TransitionError struct {
	StudyID uuid.UUID
	Op      string
	From    Status
	To      Status
	Reason  string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s study %s: cannot move from %s to %s", e.Op, e.StudyID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// OwnershipError reports that the acting doctor does not hold the assignment.
type OwnershipError struct {
	StudyID    uuid.UUID
	Op         string
	Caller     uuid.UUID
	AssignedTo *uuid.UUID
}

func (e *OwnershipError) Error() string {
	if e.AssignedTo == nil {
		return fmt.Sprintf("%s study %s: study is unassigned, caller %s", e.Op, e.StudyID, e.Caller)
	}
	return fmt.Sprintf("%s study %s: assigned to %s, not caller %s", e.Op, e.StudyID, *e.AssignedTo, e.Caller)
}

func (e *OwnershipError) Unwrap() error { return ErrNotAssignedToCaller }

// ConflictError reports a lost compare-and-swap. The caller should re-read
// and decide whether to retry.
type ConflictError struct {
	StudyID         uuid.UUID
	Op              string
	ExpectedVersion int64
	ExpectedStatus  Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s study %s: study changed since it was read (expected version %d in %s)",
		e.Op, e.StudyID, e.ExpectedVersion, e.ExpectedStatus)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrentModification }

// NotFoundError reports an unresolved study, doctor or lab reference.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func studyNotFound(id uuid.UUID) error {
	return &NotFoundError{Kind: "study", ID: id.String()}
}
