package care

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Notice levels reported to a Notifier.
const (
	NoticeSuccess = "success"
	NoticeError   = "error"
)

// Notifier receives user-facing outcomes of lifecycle actions.
type Notifier interface {
	Notify(practitionerID uuid.UUID, level, message string)
}

// Lifecycle owns the pending-request working sets and the per-request
// processing flags, and performs accept/reject transitions against the
// store. The mutex is never held across a store call.
type Lifecycle struct {
	store    Store
	notifier Notifier
	logger   zerolog.Logger

	mu         sync.Mutex
	pending    map[uuid.UUID][]Request                 // practitioner -> pending requests
	processing map[uuid.UUID]struct{}                  // request ids with a mutation in flight
	loads      map[uuid.UUID]map[*pendingLoad]struct{} // practitioner -> LoadPending calls in flight
}

// pendingLoad collects requests resolved while a LoadPending read is in
// flight, so the stale read cannot put them back into the working set.
type pendingLoad struct {
	resolved map[uuid.UUID]struct{}
}

// NewLifecycle creates a Lifecycle. notifier may be nil.
func NewLifecycle(store Store, notifier Notifier, logger zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		store:      store,
		notifier:   notifier,
		logger:     logger,
		pending:    make(map[uuid.UUID][]Request),
		processing: make(map[uuid.UUID]struct{}),
		loads:      make(map[uuid.UUID]map[*pendingLoad]struct{}),
	}
}

// LoadPending fetches the practitioner's requests and replaces the pending
// working set with those still pending. Requests resolved through this
// Lifecycle while the read is in flight are left out even if the read still
// saw them pending.
func (l *Lifecycle) LoadPending(ctx context.Context, practitionerID uuid.UUID) ([]Request, error) {
	load := l.beginLoad(practitionerID)
	reqs, err := l.store.ListRequests(ctx, practitionerID)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.endLoad(practitionerID, load)
	if err != nil {
		return nil, classify("list requests", err)
	}
	pending := make([]Request, 0, len(reqs))
	for _, r := range reqs {
		if _, resolved := load.resolved[r.ID]; resolved {
			continue
		}
		if r.Status == RequestPending {
			pending = append(pending, r)
		}
	}
	l.pending[practitionerID] = pending
	return copyRequests(pending), nil
}

func (l *Lifecycle) beginLoad(practitionerID uuid.UUID) *pendingLoad {
	load := &pendingLoad{resolved: make(map[uuid.UUID]struct{})}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loads[practitionerID] == nil {
		l.loads[practitionerID] = make(map[*pendingLoad]struct{})
	}
	l.loads[practitionerID][load] = struct{}{}
	return load
}

// endLoad must be called with l.mu held.
func (l *Lifecycle) endLoad(practitionerID uuid.UUID, load *pendingLoad) {
	delete(l.loads[practitionerID], load)
	if len(l.loads[practitionerID]) == 0 {
		delete(l.loads, practitionerID)
	}
}

// Pending returns a copy of the practitioner's pending working set.
func (l *Lifecycle) Pending(practitionerID uuid.UUID) []Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	return copyRequests(l.pending[practitionerID])
}

// Processing reports whether a mutation is in flight for the request.
func (l *Lifecycle) Processing(requestID uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.processing[requestID]
	return ok
}

// Accept turns a pending request into a patient of the preferred
// practitioner. The duplicate check, patient creation and request
// resolution run strictly in that order.
func (l *Lifecycle) Accept(ctx context.Context, requestID uuid.UUID, snapshot Request) (*Patient, error) {
	practitionerID := snapshot.PreferredPractitionerID
	if snapshot.Status != RequestPending {
		return nil, l.fail(practitionerID, requestID, "accept", fmt.Errorf("accept: %w", ErrStaleRequestState))
	}
	if err := l.acquire(requestID); err != nil {
		return nil, err
	}
	defer l.release(requestID)

	if err := l.ensurePending(ctx, requestID); err != nil {
		return nil, l.fail(practitionerID, requestID, "accept", err)
	}

	existing, err := l.store.ListPatients(ctx, practitionerID)
	if err != nil {
		return nil, l.fail(practitionerID, requestID, "accept", classify("list patients", err))
	}
	for _, p := range existing {
		if p.Email == snapshot.PatientEmail {
			return nil, l.fail(practitionerID, requestID, "accept",
				fmt.Errorf("accept: %w: %s", ErrDuplicatePatient, snapshot.PatientEmail))
		}
	}

	patient := &Patient{
		Name:           snapshot.PatientName,
		Email:          snapshot.PatientEmail,
		Phone:          snapshot.PatientPhone,
		BirthDate:      DefaultBirthDate,
		Age:            DefaultAge,
		Status:         PatientActive,
		PractitionerID: practitionerID,
	}
	if err := l.store.CreatePatient(ctx, patient); err != nil {
		return nil, l.fail(practitionerID, requestID, "accept", classify("create patient", err))
	}

	if _, err := l.store.UpdateRequestStatus(ctx, requestID, RequestAccepted, AcceptedNote); err != nil {
		l.compensate(ctx, patient)
		return nil, l.fail(practitionerID, requestID, "accept", classify("resolve request", err))
	}

	l.removePending(practitionerID, requestID)
	l.logger.Info().
		Str("request_id", requestID.String()).
		Str("patient_id", patient.ID.String()).
		Str("practitioner_id", practitionerID.String()).
		Msg("request accepted")
	l.notify(practitionerID, NoticeSuccess, "Solicitação aceita! Paciente adicionado à sua lista.")
	return patient, nil
}

// Reject resolves a pending request as rejected. No patient is created.
func (l *Lifecycle) Reject(ctx context.Context, requestID uuid.UUID) (*Request, error) {
	if err := l.acquire(requestID); err != nil {
		return nil, err
	}
	defer l.release(requestID)

	current, err := l.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, l.fail(uuid.Nil, requestID, "reject", classify("get request", err))
	}
	practitionerID := current.PreferredPractitionerID
	if current.Status != RequestPending {
		return nil, l.fail(practitionerID, requestID, "reject", fmt.Errorf("reject: %w", ErrStaleRequestState))
	}

	resolved, err := l.store.UpdateRequestStatus(ctx, requestID, RequestRejected, RejectedNote)
	if err != nil {
		return nil, l.fail(practitionerID, requestID, "reject", classify("resolve request", err))
	}

	l.removePending(practitionerID, requestID)
	l.logger.Info().
		Str("request_id", requestID.String()).
		Str("practitioner_id", practitionerID.String()).
		Msg("request rejected")
	l.notify(practitionerID, NoticeSuccess, "Solicitação rejeitada.")
	return resolved, nil
}

func (l *Lifecycle) ensurePending(ctx context.Context, requestID uuid.UUID) error {
	current, err := l.store.GetRequest(ctx, requestID)
	if err != nil {
		return classify("get request", err)
	}
	if current.Status != RequestPending {
		return fmt.Errorf("accept: %w", ErrStaleRequestState)
	}
	return nil
}

// compensate removes a patient created by an accept whose resolution failed.
func (l *Lifecycle) compensate(ctx context.Context, p *Patient) {
	if err := l.store.DeletePatient(ctx, p.ID); err != nil {
		l.logger.Error().Err(err).
			Str("patient_id", p.ID.String()).
			Msg("failed to remove patient after unresolved accept")
	}
}

func (l *Lifecycle) acquire(requestID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.processing[requestID]; busy {
		return fmt.Errorf("request %s: %w", requestID, ErrRequestInProgress)
	}
	l.processing[requestID] = struct{}{}
	return nil
}

func (l *Lifecycle) release(requestID uuid.UUID) {
	l.mu.Lock()
	delete(l.processing, requestID)
	l.mu.Unlock()
}

func (l *Lifecycle) removePending(practitionerID, requestID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := l.pending[practitionerID]
	kept := make([]Request, 0, len(list))
	for _, r := range list {
		if r.ID != requestID {
			kept = append(kept, r)
		}
	}
	l.pending[practitionerID] = kept
	for load := range l.loads[practitionerID] {
		load.resolved[requestID] = struct{}{}
	}
}

func (l *Lifecycle) fail(practitionerID, requestID uuid.UUID, op string, err error) error {
	l.logger.Warn().Err(err).
		Str("request_id", requestID.String()).
		Str("op", op).
		Msg("request lifecycle action failed")
	l.notify(practitionerID, NoticeError, noticeMessage(err))
	return err
}

func (l *Lifecycle) notify(practitionerID uuid.UUID, level, message string) {
	if l.notifier == nil || practitionerID == uuid.Nil {
		return
	}
	l.notifier.Notify(practitionerID, level, message)
}

func noticeMessage(err error) string {
	switch {
	case errors.Is(err, ErrDuplicatePatient):
		return "Este paciente já está cadastrado em sua lista!"
	case errors.Is(err, ErrStaleRequestState):
		return "Esta solicitação já foi respondida."
	case errors.Is(err, ErrInvalidPatient):
		return "Dados do paciente incompletos na solicitação."
	default:
		return "Erro ao processar solicitação"
	}
}

func copyRequests(in []Request) []Request {
	out := make([]Request, len(in))
	copy(out, in)
	return out
}
