package procs

import (
	"errors"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/logging"
)

var registryLogger = logging.C("procs.registry")

var ErrNotRegistered = errors.New("no process registered for website")

// Handle supervises one dev-server child process. Wait runs in its own
// goroutine so observers never block on the OS; Done resolves exactly
// once with the process outcome.
type Handle struct {
	WebsiteID string
	Cmd       *exec.Cmd
	PID       int
	Port      int
	StartedAt time.Time

	done    chan struct{}
	exitErr error
}

func NewHandle(websiteID string, cmd *exec.Cmd, port int) *Handle {
	h := &Handle{
		WebsiteID: websiteID,
		Cmd:       cmd,
		PID:       cmd.Process.Pid,
		Port:      port,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go func() {
		h.exitErr = cmd.Wait()
		close(h.done)
	}()
	return h
}

// Done is closed when the child exits, however that happens.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitErr is only meaningful after Done is closed.
func (h *Handle) ExitErr() error { return h.exitErr }

func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Stop signals SIGTERM, waits up to grace, then SIGKILLs. Safe to call
// after the process has already exited.
func (h *Handle) Stop(grace time.Duration) {
	if h.Exited() {
		return
	}
	_ = h.Cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-h.done:
		return
	case <-time.After(grace):
	}
	_ = h.Cmd.Process.Kill()
	<-h.done
}

// Registry maps website ids to their supervised dev-server processes.
// Memory-only and authoritative only for the current control-process
// lifetime; the reaper reconciles persisted PIDs against it after a
// restart.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

func (r *Registry) Register(websiteID string, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[websiteID] = h
}

func (r *Registry) Get(websiteID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[websiteID]
	return h, ok
}

func (r *Registry) Remove(websiteID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, websiteID)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Stop terminates and deregisters a website's process. ErrNotRegistered
// when nothing is tracked, which callers treat as already-stopped.
func (r *Registry) Stop(websiteID string, grace time.Duration) error {
	r.mu.Lock()
	h, ok := r.handles[websiteID]
	if ok {
		delete(r.handles, websiteID)
	}
	r.mu.Unlock()

	if !ok {
		return ErrNotRegistered
	}
	h.Stop(grace)
	return nil
}

// KillAll stops every registered process, used on shutdown.
func (r *Registry) KillAll(grace time.Duration) {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()

	for _, h := range handles {
		registryLogger.WithField("website_id", h.WebsiteID).Info("stopping dev server")
		h.Stop(grace)
	}
}

// AlivePID probes a persisted pid with signal 0. Used by the reaper to
// re-validate processes that outlived a control-process restart.
func AlivePID(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// KillPID force-kills an orphaned pid that no registry entry tracks.
func KillPID(pid int) error {
	if pid <= 0 {
		return nil
	}
	_ = syscall.Kill(pid, syscall.SIGTERM)
	time.Sleep(100 * time.Millisecond)
	if !AlivePID(pid) {
		return nil
	}
	return syscall.Kill(pid, syscall.SIGKILL)
}
