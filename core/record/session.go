package record

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"echonote/logger"
)

// State is a recording session state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopped   State = "stopped"
	StateFailed    State = "failed"
)

var (
	// ErrDeviceBusy is returned when another session already holds the
	// owner's capture device.
	ErrDeviceBusy = errors.New("capture device busy")

	// ErrDeviceUnavailable is returned when the capture device could not
	// be acquired. Recoverable by retrying start.
	ErrDeviceUnavailable = errors.New("device unavailable")
)

// DeviceGuard enforces that at most one session per owner holds an active
// capture device handle. Acquisition fails fast instead of blocking.
type DeviceGuard struct {
	mu     sync.Mutex
	owners map[string]bool
}

// NewDeviceGuard creates a guard.
func NewDeviceGuard() *DeviceGuard {
	return &DeviceGuard{owners: make(map[string]bool)}
}

// TryAcquire claims the owner's device slot. Returns false if already held.
func (g *DeviceGuard) TryAcquire(owner string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.owners[owner] {
		return false
	}
	g.owners[owner] = true
	return true
}

// Release frees the owner's device slot.
func (g *DeviceGuard) Release(owner string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.owners, owner)
}

// Session is a per-client recording state machine wrapping a capture
// device. Sessions are single-use: a new recording means a new session, so
// stale device handles are never reused. The session is owned exclusively
// by the client that created it.
type Session struct {
	mu       sync.Mutex
	state    State
	reason   string
	owner    string
	device   CaptureDevice
	guard    *DeviceGuard
	chunks   [][]byte
	artifact *Artifact
	done     chan struct{}
	captured sync.WaitGroup

	// stopping claims the one finalize slot; stopped is closed once the
	// winning Stop has finished, releasing any concurrent callers.
	stopping bool
	stopped  chan struct{}
}

// NewSession creates an idle session for one owner.
func NewSession(guard *DeviceGuard, device CaptureDevice, owner string) *Session {
	return &Session{
		state:   StateIdle,
		owner:   owner,
		device:  device,
		guard:   guard,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FailureReason returns the reason the session entered Failed, if it did.
func (s *Session) FailureReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Start acquires the capture device and begins buffering audio. Errors are
// reported synchronously and never mid-recording. A failed start leaves the
// session retryable; starting while another session of the same owner is
// recording fails fast with ErrDeviceBusy.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state == StateRecording || s.state == StateStopped || s.stopping {
		s.mu.Unlock()
		return fmt.Errorf("cannot start recording from state %s", s.state)
	}

	if !s.guard.TryAcquire(s.owner) {
		s.state = StateFailed
		s.reason = ErrDeviceBusy.Error()
		s.mu.Unlock()
		return ErrDeviceBusy
	}

	if err := s.device.Acquire(); err != nil {
		s.guard.Release(s.owner)
		s.state = StateFailed
		s.reason = ErrDeviceUnavailable.Error()
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s.state = StateRecording
	s.reason = ""
	s.mu.Unlock()

	s.captured.Add(1)
	go s.captureLoop()
	return nil
}

// captureLoop accumulates chunks until capture ends or stop is requested.
// Read errors mid-recording are logged, never surfaced to the client.
func (s *Session) captureLoop() {
	defer s.captured.Done()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		chunk, err := s.device.ReadChunk()
		if len(chunk) > 0 {
			s.mu.Lock()
			s.chunks = append(s.chunks, chunk)
			s.mu.Unlock()
		}
		if err != nil {
			if err != io.EOF {
				logger.Warn("capture read error",
					logger.ErrorField(err),
					logger.String("owner", s.owner))
			}
			return
		}
	}
}

// Stop finalizes the recording into exactly one Artifact and releases the
// device. Stopping a session that is not recording is a no-op, not an
// error; the artifact from a previous stop (if any) is returned again.
// Concurrent callers wait for the one finalize and see the same artifact.
func (s *Session) Stop() (*Artifact, error) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		<-s.stopped
		return s.Artifact(), nil
	}
	if s.state != StateRecording {
		artifact := s.artifact
		s.mu.Unlock()
		return artifact, nil
	}
	s.stopping = true
	s.mu.Unlock()

	defer close(s.stopped)

	close(s.done)

	// Finalize stops capture, which unblocks any pending ReadChunk with
	// io.EOF, so the loop is joined after it.
	tail, err := s.device.Finalize()
	s.captured.Wait()
	s.device.Release()
	s.guard.Release(s.owner)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.state = StateFailed
		s.reason = err.Error()
		return nil, fmt.Errorf("failed to finalize recording: %w", err)
	}

	var data []byte
	for _, chunk := range s.chunks {
		data = append(data, chunk...)
	}
	data = append(data, tail...)
	s.chunks = nil

	s.artifact = &Artifact{Data: data, ContentType: ArtifactContentType}
	s.state = StateStopped
	return s.artifact, nil
}

// Artifact returns the finished recording, or nil before Stopped.
func (s *Session) Artifact() *Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact
}
