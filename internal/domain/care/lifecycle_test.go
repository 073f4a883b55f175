package care

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notice struct {
	practitionerID uuid.UUID
	level, message string
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (f *fakeNotifier) Notify(practitionerID uuid.UUID, level, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, notice{practitionerID, level, message})
}

func (f *fakeNotifier) last() notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.notices) == 0 {
		return notice{}
	}
	return f.notices[len(f.notices)-1]
}

// faultyStore wraps a MemoryStore and lets tests inject failures or block
// patient creation.
type faultyStore struct {
	*MemoryStore

	listPatientsErr  error
	updateRequestErr error

	createEntered chan struct{}
	createRelease chan struct{}

	listRequestsEntered chan struct{}
	listRequestsRelease chan struct{}
}

// ListRequests reads the store first and then blocks, so the caller gets a
// result that may be outdated by the time it returns.
func (s *faultyStore) ListRequests(ctx context.Context, pid uuid.UUID) ([]Request, error) {
	reqs, err := s.MemoryStore.ListRequests(ctx, pid)
	if s.listRequestsEntered != nil {
		close(s.listRequestsEntered)
		<-s.listRequestsRelease
	}
	return reqs, err
}

func (s *faultyStore) ListPatients(ctx context.Context, pid uuid.UUID) ([]Patient, error) {
	if s.listPatientsErr != nil {
		return nil, s.listPatientsErr
	}
	return s.MemoryStore.ListPatients(ctx, pid)
}

func (s *faultyStore) CreatePatient(ctx context.Context, p *Patient) error {
	if s.createEntered != nil {
		close(s.createEntered)
		<-s.createRelease
	}
	return s.MemoryStore.CreatePatient(ctx, p)
}

func (s *faultyStore) UpdateRequestStatus(ctx context.Context, id uuid.UUID, status RequestStatus, note string) (*Request, error) {
	if s.updateRequestErr != nil {
		return nil, s.updateRequestErr
	}
	return s.MemoryStore.UpdateRequestStatus(ctx, id, status, note)
}

type lifecycleFixture struct {
	store     *faultyStore
	notifier  *fakeNotifier
	lc        *Lifecycle
	pid       uuid.UUID
	request   Request
	duplicate Request
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	pid := uuid.New()
	mem := NewMemoryStore()
	mem.AddPatient(Patient{Name: "Ana Souza", Email: "ana@example.com", Status: PatientActive, PractitionerID: pid})
	req := mem.AddRequest(Request{
		PatientName:             "Carla Mendes",
		PatientEmail:            "carla@example.com",
		PatientPhone:            "(31) 96666-3333",
		Urgency:                 UrgencyHigh,
		PreferredPractitionerID: pid,
	})
	dup := mem.AddRequest(Request{
		PatientName:             "Ana Souza",
		PatientEmail:            "ana@example.com",
		Urgency:                 UrgencyLow,
		PreferredPractitionerID: pid,
	})
	fs := &faultyStore{MemoryStore: mem}
	n := &fakeNotifier{}
	return &lifecycleFixture{
		store:     fs,
		notifier:  n,
		lc:        NewLifecycle(fs, n, zerolog.Nop()),
		pid:       pid,
		request:   req,
		duplicate: dup,
	}
}

func (f *lifecycleFixture) patients(t *testing.T) []Patient {
	t.Helper()
	ps, err := f.store.MemoryStore.ListPatients(context.Background(), f.pid)
	require.NoError(t, err)
	return ps
}

func (f *lifecycleFixture) status(t *testing.T, id uuid.UUID) RequestStatus {
	t.Helper()
	r, err := f.store.GetRequest(context.Background(), id)
	require.NoError(t, err)
	return r.Status
}

func TestLifecycle_LoadPending(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	_, err := f.store.UpdateRequestStatus(ctx, f.duplicate.ID, RequestRejected, RejectedNote)
	require.NoError(t, err)

	pending, err := f.lc.LoadPending(ctx, f.pid)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, f.request.ID, pending[0].ID)
	assert.Equal(t, pending, f.lc.Pending(f.pid))
}

func TestLifecycle_AcceptCreatesPatient(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	_, err := f.lc.LoadPending(ctx, f.pid)
	require.NoError(t, err)

	p, err := f.lc.Accept(ctx, f.request.ID, f.request)
	require.NoError(t, err)

	assert.Equal(t, "Carla Mendes", p.Name)
	assert.Equal(t, "carla@example.com", p.Email)
	assert.Equal(t, PatientActive, p.Status)
	assert.Equal(t, DefaultAge, p.Age)
	assert.True(t, DefaultBirthDate.Equal(p.BirthDate))
	assert.Equal(t, f.pid, p.PractitionerID)
	assert.Len(t, f.patients(t), 2)

	stored, err := f.store.GetRequest(ctx, f.request.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestAccepted, stored.Status)
	require.NotNil(t, stored.Notes)
	assert.Equal(t, AcceptedNote, *stored.Notes)

	for _, r := range f.lc.Pending(f.pid) {
		assert.NotEqual(t, f.request.ID, r.ID, "accepted request must leave the pending set")
	}
	assert.False(t, f.lc.Processing(f.request.ID))
	assert.Equal(t, NoticeSuccess, f.notifier.last().level)
}

func TestLifecycle_AcceptDuplicatePatient(t *testing.T) {
	f := newLifecycleFixture(t)

	_, err := f.lc.Accept(context.Background(), f.duplicate.ID, f.duplicate)
	require.ErrorIs(t, err, ErrDuplicatePatient)

	assert.Len(t, f.patients(t), 1, "no patient may be created for a duplicate e-mail")
	assert.Equal(t, RequestPending, f.status(t, f.duplicate.ID), "duplicate request stays pending")
	assert.False(t, f.lc.Processing(f.duplicate.ID))

	n := f.notifier.last()
	assert.Equal(t, NoticeError, n.level)
	assert.Equal(t, "Este paciente já está cadastrado em sua lista!", n.message)
	assert.Equal(t, f.pid, n.practitionerID)
}

func TestLifecycle_AcceptRejectsResolvedSnapshot(t *testing.T) {
	f := newLifecycleFixture(t)
	snap := f.request
	snap.Status = RequestAccepted

	_, err := f.lc.Accept(context.Background(), snap.ID, snap)
	require.ErrorIs(t, err, ErrStaleRequestState)
	assert.Len(t, f.patients(t), 1)
	assert.Equal(t, RequestPending, f.status(t, snap.ID))
}

func TestLifecycle_SecondResolutionIsStale(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	_, err := f.lc.Accept(ctx, f.request.ID, f.request)
	require.NoError(t, err)

	// The caller still holds the pending snapshot from before the accept.
	_, err = f.lc.Accept(ctx, f.request.ID, f.request)
	require.ErrorIs(t, err, ErrStaleRequestState)

	_, err = f.lc.Reject(ctx, f.request.ID)
	require.ErrorIs(t, err, ErrStaleRequestState)

	assert.Len(t, f.patients(t), 2)
	assert.Equal(t, RequestAccepted, f.status(t, f.request.ID))
	assert.Equal(t, "Esta solicitação já foi respondida.", f.notifier.last().message)
}

func TestLifecycle_Reject(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	_, err := f.lc.LoadPending(ctx, f.pid)
	require.NoError(t, err)

	r, err := f.lc.Reject(ctx, f.request.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestRejected, r.Status)
	require.NotNil(t, r.Notes)
	assert.Equal(t, RejectedNote, *r.Notes)

	assert.Len(t, f.patients(t), 1, "reject never creates a patient")
	assert.Len(t, f.lc.Pending(f.pid), 1)
	assert.False(t, f.lc.Processing(f.request.ID))
	assert.Equal(t, NoticeSuccess, f.notifier.last().level)
}

func TestLifecycle_RejectUnknownRequest(t *testing.T) {
	f := newLifecycleFixture(t)

	_, err := f.lc.Reject(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrRequestNotFound)
	assert.Empty(t, f.notifier.notices, "no practitioner to notify for an unknown request")
}

func TestLifecycle_RefusesWhileInProgress(t *testing.T) {
	f := newLifecycleFixture(t)
	f.store.createEntered = make(chan struct{})
	f.store.createRelease = make(chan struct{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.lc.Accept(ctx, f.request.ID, f.request)
		done <- err
	}()

	select {
	case <-f.store.createEntered:
	case <-time.After(time.Second):
		t.Fatal("accept never reached patient creation")
	}
	assert.True(t, f.lc.Processing(f.request.ID))

	_, err := f.lc.Accept(ctx, f.request.ID, f.request)
	assert.ErrorIs(t, err, ErrRequestInProgress)
	_, err = f.lc.Reject(ctx, f.request.ID)
	assert.ErrorIs(t, err, ErrRequestInProgress)

	close(f.store.createRelease)
	require.NoError(t, <-done)
	assert.False(t, f.lc.Processing(f.request.ID))
	assert.Len(t, f.patients(t), 2)
}

func TestLifecycle_StoreFailureReleasesFlag(t *testing.T) {
	f := newLifecycleFixture(t)
	f.store.listPatientsErr = errors.New("connection refused")

	_, err := f.lc.Accept(context.Background(), f.request.ID, f.request)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "connection refused")

	assert.False(t, f.lc.Processing(f.request.ID))
	assert.Equal(t, RequestPending, f.status(t, f.request.ID))
	assert.Equal(t, "Erro ao processar solicitação", f.notifier.last().message)
}

func TestLifecycle_UnresolvedAcceptRemovesPatient(t *testing.T) {
	f := newLifecycleFixture(t)
	f.store.updateRequestErr = errors.New("timeout")

	_, err := f.lc.Accept(context.Background(), f.request.ID, f.request)
	require.ErrorIs(t, err, ErrStoreUnavailable)

	assert.Len(t, f.patients(t), 1, "patient created before the failed resolution must be removed")
	assert.Equal(t, RequestPending, f.status(t, f.request.ID))
	assert.False(t, f.lc.Processing(f.request.ID))
}

func TestLifecycle_NilNotifier(t *testing.T) {
	f := newLifecycleFixture(t)
	lc := NewLifecycle(f.store, nil, zerolog.Nop())

	_, err := lc.Accept(context.Background(), f.duplicate.ID, f.duplicate)
	require.ErrorIs(t, err, ErrDuplicatePatient)
}

func TestLifecycle_LoadPendingDropsRequestsResolvedDuringRead(t *testing.T) {
	f := newLifecycleFixture(t)
	f.store.listRequestsEntered = make(chan struct{})
	f.store.listRequestsRelease = make(chan struct{})
	ctx := context.Background()

	type result struct {
		pending []Request
		err     error
	}
	done := make(chan result, 1)
	go func() {
		pending, err := f.lc.LoadPending(ctx, f.pid)
		done <- result{pending, err}
	}()

	select {
	case <-f.store.listRequestsEntered:
	case <-time.After(time.Second):
		t.Fatal("load never reached the store")
	}
	_, err := f.lc.Reject(ctx, f.request.ID)
	require.NoError(t, err)

	close(f.store.listRequestsRelease)
	res := <-done
	require.NoError(t, res.err)
	require.Len(t, res.pending, 1)
	assert.Equal(t, f.duplicate.ID, res.pending[0].ID)
	require.Len(t, f.lc.Pending(f.pid), 1)
	assert.Equal(t, f.duplicate.ID, f.lc.Pending(f.pid)[0].ID)

	// The next load starts clean.
	f.store.listRequestsEntered = nil
	pending, err := f.lc.LoadPending(ctx, f.pid)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestLifecycle_AcceptIncompleteRequest(t *testing.T) {
	f := newLifecycleFixture(t)
	req := f.store.AddRequest(Request{
		PatientEmail:            "sem.nome@example.com",
		Urgency:                 UrgencyMedium,
		PreferredPractitionerID: f.pid,
	})

	_, err := f.lc.Accept(context.Background(), req.ID, req)
	require.ErrorIs(t, err, ErrInvalidPatient)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)

	assert.Len(t, f.patients(t), 1)
	assert.Equal(t, RequestPending, f.status(t, req.ID))
	assert.False(t, f.lc.Processing(req.ID))
	assert.Equal(t, "Dados do paciente incompletos na solicitação.", f.notifier.last().message)
}
