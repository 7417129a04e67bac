package term

import (
	"errors"
	"io"
	"os/exec"
	"sync"
	"testing"
	"time"
)

type fakePty struct {
	mu        sync.Mutex
	reads     chan []byte
	writes    [][]byte
	resizes   [][2]uint16
	closed    chan struct{}
	closeOnce sync.Once

	// closeDelay simulates a child that ignores SIGTERM and has to be
	// waited out.
	closeDelay time.Duration
}

func newFakePty() *fakePty {
	return &fakePty{
		reads:  make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (p *fakePty) Read(buf []byte) (int, error) {
	select {
	case chunk := <-p.reads:
		return copy(buf, chunk), nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *fakePty) Write(data []byte) (int, error) {
	p.mu.Lock()
	p.writes = append(p.writes, append([]byte(nil), data...))
	p.mu.Unlock()
	return len(data), nil
}

func (p *fakePty) Close() error {
	if p.closeDelay > 0 {
		time.Sleep(p.closeDelay)
	}
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePty) Resize(cols, rows uint16) error {
	p.mu.Lock()
	p.resizes = append(p.resizes, [2]uint16{cols, rows})
	p.mu.Unlock()
	return nil
}

func (p *fakePty) emit(data string) {
	p.reads <- []byte(data)
}

func (p *fakePty) lastWrite() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.writes) == 0 {
		return nil
	}
	return p.writes[len(p.writes)-1]
}

type fakeFactory struct {
	mu    sync.Mutex
	ptys  []*fakePty
	fail  error
	count int
}

func (f *fakeFactory) Start(command string, args []string, dir string, env []string) (Pty, *exec.Cmd, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	if f.fail != nil {
		return nil, nil, f.fail
	}
	p := newFakePty()
	f.ptys = append(f.ptys, p)
	return p, nil, nil
}

func newTestRegistry(max int, factory *fakeFactory) *Registry {
	return NewRegistry(RegistryOptions{
		Shell:       "/bin/sh",
		MaxSessions: max,
		PtyFactory:  factory,
		Grace:       50 * time.Millisecond,
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSpawnEnforcesCapacity(t *testing.T) {
	factory := &fakeFactory{}
	r := newTestRegistry(2, factory)
	defer r.CloseAll()

	if _, err := r.Spawn(SpawnSpec{ID: "a"}); err != nil {
		t.Fatalf("spawn a: %v", err)
	}
	if _, err := r.Spawn(SpawnSpec{ID: "b"}); err != nil {
		t.Fatalf("spawn b: %v", err)
	}
	if _, err := r.Spawn(SpawnSpec{ID: "c"}); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if got := r.LiveCount(); got != 2 {
		t.Fatalf("rejected spawn must not change state, live=%d", got)
	}
}

func TestSpawnFailureLeavesNoState(t *testing.T) {
	factory := &fakeFactory{fail: errors.New("no pty")}
	r := newTestRegistry(4, factory)
	defer r.CloseAll()

	_, err := r.Spawn(SpawnSpec{ID: "a"})
	if !errors.Is(err, ErrProcessSpawnError) {
		t.Fatalf("expected spawn error, got %v", err)
	}
	if r.LiveCount() != 0 {
		t.Fatal("failed spawn must leave the registry empty")
	}
	if _, ok := r.Get("a"); ok {
		t.Fatal("failed spawn must not register the session")
	}
}

func TestWriteReachesPty(t *testing.T) {
	factory := &fakeFactory{}
	r := newTestRegistry(2, factory)
	defer r.CloseAll()

	session, err := r.Spawn(SpawnSpec{ID: "a"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := session.Write([]byte("ls\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool { return string(factory.ptys[0].lastWrite()) == "ls\n" })
}

func TestOutputReachesSubscribersAndScrollback(t *testing.T) {
	factory := &fakeFactory{}
	r := newTestRegistry(2, factory)
	defer r.CloseAll()

	session, err := r.Spawn(SpawnSpec{ID: "a"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	out, cancel := session.Subscribe()
	defer cancel()

	factory.ptys[0].emit("hello\n")

	select {
	case chunk := <-out:
		if string(chunk) != "hello\n" {
			t.Fatalf("unexpected chunk %q", chunk)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for output")
	}
	waitFor(t, func() bool {
		lines := session.Scrollback(10)
		return len(lines) == 1 && lines[0] == "hello"
	})
}

func TestUnexpectedExitMarksCrashed(t *testing.T) {
	factory := &fakeFactory{}
	r := newTestRegistry(2, factory)
	defer r.CloseAll()

	events, cancel := r.Events().Subscribe()
	defer cancel()

	session, err := r.Spawn(SpawnSpec{ID: "a"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	// Drain the spawn event first.
	select {
	case ev := <-events:
		if ev.Kind != SessionSpawned {
			t.Fatalf("expected spawn event, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no spawn event")
	}

	// EOF on the PTY without a close request is a crash.
	_ = factory.ptys[0].Close()

	select {
	case ev := <-events:
		if ev.Kind != SessionCrashed || ev.SessionID != "a" {
			t.Fatalf("expected crash event for a, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no crash event")
	}
	if session.State() != StateCrashed {
		t.Fatalf("expected crashed state, got %s", session.State())
	}

	// Other sessions are unaffected.
	if _, err := r.Spawn(SpawnSpec{ID: "b"}); err != nil {
		t.Fatalf("spawn after crash: %v", err)
	}
}

func TestCloseRemovesSession(t *testing.T) {
	factory := &fakeFactory{}
	r := newTestRegistry(2, factory)
	defer r.CloseAll()

	session, err := r.Spawn(SpawnSpec{ID: "a"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := r.Close("a"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if session.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", session.State())
	}
	if _, ok := r.Get("a"); ok {
		t.Fatal("closed session must be removed")
	}
	if err := r.Close("a"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("double close should report not found, got %v", err)
	}
	if err := session.Write([]byte("x")); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("write after close should fail, got %v", err)
	}
}

func TestCloseKeepsSessionListedUntilReaped(t *testing.T) {
	factory := &fakeFactory{}
	r := newTestRegistry(2, factory)
	defer r.CloseAll()

	session, err := r.Spawn(SpawnSpec{ID: "a"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	factory.ptys[0].closeDelay = 200 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- r.Close("a") }()

	waitFor(t, func() bool { return session.State() == StateClosing })
	if _, ok := r.Get("a"); !ok {
		t.Fatal("closing session must stay listed until the process exit is observed")
	}
	if got := r.LiveCount(); got != 1 {
		t.Fatalf("closing session still holds a PTY, live=%d", got)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close never finished")
	}
	if _, ok := r.Get("a"); ok {
		t.Fatal("closed session must be removed")
	}
}

func TestListOrdersByCreation(t *testing.T) {
	factory := &fakeFactory{}
	r := newTestRegistry(4, factory)
	defer r.CloseAll()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := r.Spawn(SpawnSpec{ID: id}); err != nil {
			t.Fatalf("spawn %s: %v", id, err)
		}
	}
	infos := r.List()
	if len(infos) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(infos))
	}
}
