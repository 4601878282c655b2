package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/roundtablehq/roundtable/internal/domain/debate"
	"github.com/roundtablehq/roundtable/internal/domain/event"
	"github.com/roundtablehq/roundtable/internal/port/taskqueue"
)

type fakeRepo struct {
	mu       sync.Mutex
	running  []debate.Session
	handles  map[string]string
	counts   map[string]int64
	listErr  error
	setErrFn func(sessionID string) error
}

func newFakeRepo(running ...debate.Session) *fakeRepo {
	r := &fakeRepo{running: running, handles: make(map[string]string), counts: make(map[string]int64)}
	// Most tests model sessions that crashed mid-run, so give them a log.
	for _, s := range running {
		r.counts[s.ID] = 4
	}
	return r
}

func (r *fakeRepo) CreateSession(_ context.Context, _ debate.CreateSessionRequest) (*debate.Session, error) {
	return nil, errors.New("not implemented")
}
func (r *fakeRepo) GetSession(_ context.Context, _ string) (*debate.Session, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeRepo) ListRunningSessions(_ context.Context) ([]debate.Session, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]debate.Session, len(r.running))
	copy(out, r.running)
	return out, nil
}

func (r *fakeRepo) UpdatePhase(_ context.Context, _ string, _ debate.Phase) error    { return nil }
func (r *fakeRepo) UpdateStatus(_ context.Context, _ string, _ debate.Status) error  { return nil }
func (r *fakeRepo) AppendEvent(_ context.Context, _ *event.DebateEvent) error        { return nil }
func (r *fakeRepo) ListEvents(_ context.Context, _ string) ([]event.DebateEvent, error) {
	return nil, nil
}
func (r *fakeRepo) CountEvents(_ context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[id], nil
}
func (r *fakeRepo) GetHandle(_ context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[id], nil
}

func (r *fakeRepo) SetHandle(_ context.Context, id, handle string) error {
	if r.setErrFn != nil {
		if err := r.setErrFn(id); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[id] = handle
	return nil
}

func (r *fakeRepo) ClearHandle(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, id)
	return nil
}

type fakeQueue struct {
	mu          sync.Mutex
	liveness    map[taskqueue.Handle]taskqueue.Liveness
	dispatched  []string
	dispatchErr error
	next        int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{liveness: make(map[taskqueue.Handle]taskqueue.Liveness)}
}

func (q *fakeQueue) Dispatch(_ context.Context, sessionID string) (taskqueue.Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dispatchErr != nil {
		return "", q.dispatchErr
	}
	q.next++
	q.dispatched = append(q.dispatched, sessionID)
	return taskqueue.Handle(fmt.Sprintf("unit-%d", q.next)), nil
}

func (q *fakeQueue) IsAlive(_ context.Context, h taskqueue.Handle) taskqueue.Liveness {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.liveness[h]
}

func (q *fakeQueue) Cancel(_ context.Context, _ taskqueue.Handle) error { return nil }

// memGuard is a first-caller-wins in-process guard.
type memGuard struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func newMemGuard() *memGuard { return &memGuard{held: make(map[string]bool)} }

func (g *memGuard) Acquire(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	if g.held[key] {
		return false, nil
	}
	g.held[key] = true
	return true, nil
}

func (g *memGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, key)
	return nil
}

func running(id, handle string) debate.Session {
	return debate.Session{ID: id, Status: debate.StatusRunning, Phase: debate.PhaseClaims, Handle: handle}
}

func TestRecoverRedispatchesDeadSessions(t *testing.T) {
	repo := newFakeRepo(running("s1", "unit-old"), running("s2", ""))
	q := newFakeQueue()
	q.liveness["unit-old"] = taskqueue.Dead

	sup := New(repo, q, newMemGuard())
	rep, err := sup.Recover(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}

	if rep.Redispatched != 2 || rep.Alive != 0 {
		t.Fatalf("report = %+v, want both sessions redispatched", rep)
	}
	if len(q.dispatched) != 2 {
		t.Fatalf("dispatched %v", q.dispatched)
	}
	if repo.handles["s1"] == "" || repo.handles["s2"] == "" {
		t.Fatalf("handles not recorded: %v", repo.handles)
	}
}

func TestRecoverLeavesAliveSessionsAlone(t *testing.T) {
	repo := newFakeRepo(running("s1", "unit-live"))
	q := newFakeQueue()
	q.liveness["unit-live"] = taskqueue.Alive

	sup := New(repo, q, newMemGuard())
	rep, err := sup.Recover(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if rep.Alive != 1 || rep.Redispatched != 0 {
		t.Fatalf("report = %+v, want session left alone", rep)
	}
	if len(q.dispatched) != 0 {
		t.Fatal("alive session was redispatched")
	}
}

func TestRecoverDegradesUnknownLivenessToDead(t *testing.T) {
	repo := newFakeRepo(running("s1", "unit-mystery"))
	q := newFakeQueue()
	q.liveness["unit-mystery"] = taskqueue.Unknown

	sup := New(repo, q, newMemGuard())
	rep, err := sup.Recover(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if rep.Redispatched != 1 {
		t.Fatalf("report = %+v, want unknown treated as dead", rep)
	}
}

func TestRecoverLeavesNeverStartedSessionsAlone(t *testing.T) {
	repo := newFakeRepo(running("s1", ""))
	repo.counts["s1"] = 0
	q := newFakeQueue()

	sup := New(repo, q, newMemGuard())
	rep, err := sup.Recover(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if rep.NotStarted != 1 || rep.Redispatched != 0 {
		t.Fatalf("report = %+v, want eventless session left for explicit restart", rep)
	}
	if len(q.dispatched) != 0 {
		t.Fatal("eventless session was dispatched")
	}
}

func TestConcurrentScansDispatchOnce(t *testing.T) {
	repo := newFakeRepo(running("s1", ""))
	q := newFakeQueue()
	g := newMemGuard()
	// Hold the marker as a concurrent scanner would.
	if won, _ := g.Acquire(context.Background(), "dispatch:s1"); !won {
		t.Fatal("setup acquire failed")
	}

	sup := New(repo, q, g)
	rep, err := sup.Recover(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if rep.Skipped != 1 || rep.Redispatched != 0 {
		t.Fatalf("report = %+v, want guarded session skipped", rep)
	}
	if len(q.dispatched) != 0 {
		t.Fatal("guarded session was dispatched twice")
	}
}

func TestDispatchAgainstLiveUnitReturnsExistingHandle(t *testing.T) {
	repo := newFakeRepo()
	q := newFakeQueue()
	q.liveness["unit-live"] = taskqueue.Alive

	sup := New(repo, q, newMemGuard())
	sess := running("s1", "unit-live")
	handle, dispatched, err := sup.Dispatch(context.Background(), &sess)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if dispatched {
		t.Fatal("session with a live unit was redispatched")
	}
	if handle != "unit-live" {
		t.Fatalf("handle = %q, want the existing unit returned", handle)
	}
	if len(q.dispatched) != 0 {
		t.Fatal("queue received a dispatch for a live unit")
	}
}

func TestDispatchAgainstHeldMarkerReturnsRecordedHandle(t *testing.T) {
	repo := newFakeRepo()
	repo.handles["s1"] = "unit-owned"
	g := newMemGuard()
	if won, _ := g.Acquire(context.Background(), "dispatch:s1"); !won {
		t.Fatal("setup acquire failed")
	}

	q := newFakeQueue()
	sup := New(repo, q, g)
	sess := running("s1", "")
	handle, dispatched, err := sup.Dispatch(context.Background(), &sess)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if dispatched || handle != "unit-owned" {
		t.Fatalf("dispatched=%v handle=%q, want no-op returning the recorded handle", dispatched, handle)
	}
	if len(q.dispatched) != 0 {
		t.Fatal("held marker did not prevent a second dispatch")
	}
}

func TestRecoverCountsPerSessionFailures(t *testing.T) {
	repo := newFakeRepo(running("s1", ""), running("s2", ""))
	q := newFakeQueue()
	q.dispatchErr = errors.New("queue down")

	sup := New(repo, q, newMemGuard())
	rep, err := sup.Recover(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if rep.Failed != 2 || rep.Redispatched != 0 {
		t.Fatalf("report = %+v, want failures counted not fatal", rep)
	}
}

func TestRecoverPropagatesListError(t *testing.T) {
	repo := newFakeRepo()
	repo.listErr = errors.New("store down")
	sup := New(repo, newFakeQueue(), newMemGuard())
	if _, err := sup.Recover(context.Background()); err == nil {
		t.Fatal("expected error when scan cannot list sessions")
	}
}
