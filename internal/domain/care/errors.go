package care

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Errors returned by the care request lifecycle and its store.
var (
	ErrDuplicatePatient    = errors.New("patient already registered for this practitioner")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrStaleRequestState   = errors.New("request is no longer pending")
	ErrRequestInProgress   = errors.New("request is already being processed")
	ErrRequestNotFound     = errors.New("request not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidTransition   = errors.New("invalid appointment status transition")
	ErrViewNotFound        = errors.New("dashboard view not found")
	ErrInvalidStatus       = errors.New("invalid status")
	ErrInvalidPatient      = errors.New("invalid patient")
)

// knownErrors are passed through the store boundary unchanged.
var knownErrors = []error{
	ErrDuplicatePatient,
	ErrStaleRequestState,
	ErrRequestInProgress,
	ErrRequestNotFound,
	ErrPatientNotFound,
	ErrAppointmentNotFound,
	ErrInvalidTransition,
	ErrInvalidPatient,
	ErrInvalidStatus,
	ErrStoreUnavailable,
}

// classify converts a store error into one of the known error kinds.
// Anything unrecognised is reported as ErrStoreUnavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range knownErrors {
		if errors.Is(err, known) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

// validatePatient checks the fields every store requires before insert.
func validatePatient(p *Patient) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPatient)
	}
	if p.PractitionerID == uuid.Nil {
		return fmt.Errorf("%w: practitioner_id is required", ErrInvalidPatient)
	}
	return nil
}
