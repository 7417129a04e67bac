package term

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

var ErrSessionClosed = errors.New("terminal session closed")

type SessionState uint32

const (
	StateSpawning SessionState = iota
	StateRunning
	StateClosing
	StateCrashed
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateClosing:
		return "closing"
	case StateCrashed:
		return "crashed"
	case StateClosed:
		return "closed"
	default:
		return "running"
	}
}

// Session owns one PTY-backed child process. Three goroutines service it:
// readLoop drains the PTY into output, writeLoop feeds input to the PTY,
// broadcastLoop fans output out to subscribers and scrollback.
type Session struct {
	ID        string
	Title     string
	Dir       string
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	input  chan []byte
	output chan []byte

	pty   Pty
	cmd   *exec.Cmd
	bcast *Broadcaster

	// onExit fires once when the child is reaped outside a requested
	// close, with the exit code.
	onExit func(id string, exitCode int)

	closing  sync.Once
	waitOnce sync.Once
	waitErr  error
	exitCode atomic.Int32
	closeErr error
	state    uint32
}

type SessionInfo struct {
	ID        string
	Title     string
	Dir       string
	CreatedAt time.Time
	State     SessionState
	ExitCode  int
}

func newSession(id, title, dir string, pty Pty, cmd *exec.Cmd, createdAt time.Time, scrollbackLines int, onExit func(string, int)) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        id,
		Title:     title,
		Dir:       dir,
		CreatedAt: createdAt,
		ctx:       ctx,
		cancel:    cancel,
		input:     make(chan []byte, 64),
		output:    make(chan []byte, 64),
		pty:       pty,
		cmd:       cmd,
		bcast:     NewBroadcaster(scrollbackLines),
		onExit:    onExit,
		state:     uint32(StateSpawning),
	}

	go s.readLoop()
	go s.writeLoop()
	go s.broadcastLoop()
	s.setState(StateRunning)

	return s
}

func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:        s.ID,
		Title:     s.Title,
		Dir:       s.Dir,
		CreatedAt: s.CreatedAt,
		State:     s.State(),
		ExitCode:  int(s.exitCode.Load()),
	}
}

func (s *Session) Subscribe() (<-chan []byte, func()) {
	return s.bcast.Subscribe()
}

// Scrollback returns up to n retained output lines, newest last.
func (s *Session) Scrollback(n int) []string {
	return s.bcast.Tail(n)
}

func (s *Session) Write(data []byte) (err error) {
	if len(data) == 0 {
		return nil
	}
	if s == nil {
		return ErrSessionClosed
	}
	state := s.State()
	if state == StateClosing || state == StateClosed || state == StateCrashed {
		return ErrSessionClosed
	}

	defer func() {
		if r := recover(); r != nil {
			err = ErrSessionClosed
		}
	}()

	select {
	case s.input <- data:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

func (s *Session) Resize(cols, rows uint16) error {
	if s == nil || s.pty == nil {
		return ErrSessionClosed
	}
	if err := s.pty.Resize(cols, rows); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	return nil
}

func (s *Session) State() SessionState {
	return SessionState(atomic.LoadUint32(&s.state))
}

func (s *Session) setState(state SessionState) {
	atomic.StoreUint32(&s.state, uint32(state))
}

// Close terminates the child process tree, SIGTERM first with a grace
// window, SIGKILL after. Safe to call more than once.
func (s *Session) Close(grace time.Duration) error {
	s.closing.Do(func() {
		s.setState(StateClosing)
		if s.cancel != nil {
			s.cancel()
		}
		close(s.input)
		s.closeErr = s.closeResources(grace)
		s.setState(StateClosed)
	})
	return s.closeErr
}

func (s *Session) closeResources(grace time.Duration) error {
	var errs []error
	if s.pty != nil {
		if err := s.pty.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, fmt.Errorf("close pty: %w", err))
		}
	}
	if s.cmd != nil && s.cmd.Process != nil {
		if err := terminateProcessTree(s.cmd, grace); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// reap waits for the child exactly once and records its exit code.
func (s *Session) reap() int {
	s.waitOnce.Do(func() {
		if s.cmd == nil {
			return
		}
		s.waitErr = s.cmd.Wait()
		code := 0
		if s.cmd.ProcessState != nil {
			code = s.cmd.ProcessState.ExitCode()
			if code < 0 {
				if status, ok := s.cmd.ProcessState.Sys().(syscall.WaitStatus); ok && status.Signaled() {
					code = 128 + int(status.Signal())
				}
			}
		} else if s.waitErr != nil {
			code = 1
		}
		s.exitCode.Store(int32(code))
	})
	return int(s.exitCode.Load())
}

func (s *Session) readLoop() {
	defer close(s.output)

	buf := make([]byte, 4096)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		n, err := s.pty.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.output <- chunk:
			case <-s.ctx.Done():
				return
			}
		}
		if err != nil {
			s.handleReadEnd()
			return
		}
	}
}

// handleReadEnd fires when the PTY read side fails: either the child exited
// on its own (crash or normal exit) or the session is being closed.
func (s *Session) handleReadEnd() {
	if s.State() != StateRunning {
		return
	}
	code := s.reap()
	s.setState(StateCrashed)
	if s.cancel != nil {
		s.cancel()
	}
	if s.pty != nil {
		_ = s.pty.Close()
	}
	if s.onExit != nil {
		s.onExit(s.ID, code)
	}
}

func (s *Session) writeLoop() {
	for data := range s.input {
		if _, err := s.pty.Write(data); err != nil {
			return
		}
	}
}

func (s *Session) broadcastLoop() {
	for chunk := range s.output {
		s.bcast.Broadcast(chunk)
	}
	s.bcast.Close()
}
