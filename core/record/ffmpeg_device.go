package record

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"echonote/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// FFmpegCaptureDevice captures microphone audio by running ffmpeg against
// the platform's default input and spooling the encoded container to disk.
// An fsnotify watcher on the spool directory drives ReadChunk: each write
// event yields the bytes appended since the previous read.
type FFmpegCaptureDevice struct {
	ffmpegPath string
	inputSpec  string // e.g. "alsa:default" or "pulse:default"
	spoolDir   string

	mu        sync.Mutex
	cmd       *exec.Cmd
	waitCh    chan error
	watcher   *fsnotify.Watcher
	spoolFile string
	offset    int64
	finalized bool
}

// NewFFmpegCaptureDevice creates a capture device over ffmpeg.
func NewFFmpegCaptureDevice(ffmpegPath, inputSpec, spoolDir string) *FFmpegCaptureDevice {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if inputSpec == "" {
		inputSpec = "alsa:default"
	}
	return &FFmpegCaptureDevice{
		ffmpegPath: ffmpegPath,
		inputSpec:  inputSpec,
		spoolDir:   spoolDir,
	}
}

// Acquire starts the ffmpeg capture process. It fails fast when the input
// device is busy or denied (ffmpeg exits immediately in both cases).
func (d *FFmpegCaptureDevice) Acquire() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cmd != nil {
		return fmt.Errorf("capture already in progress")
	}

	if err := os.MkdirAll(d.spoolDir, 0755); err != nil {
		return fmt.Errorf("failed to create spool dir: %w", err)
	}

	format, device := splitInputSpec(d.inputSpec)
	d.spoolFile = filepath.Join(d.spoolDir, uuid.New().String()+".webm")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create spool watcher: %w", err)
	}
	if err := watcher.Add(d.spoolDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch spool dir: %w", err)
	}

	cmd := exec.Command(d.ffmpegPath,
		"-f", format,
		"-i", device,
		"-c:a", "libopus",
		"-f", "webm",
		"-y", d.spoolFile,
	)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	// ffmpeg exits within moments when the device is held elsewhere or
	// permission is denied; treat an early exit as acquisition failure.
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()
	select {
	case err := <-waitCh:
		watcher.Close()
		return fmt.Errorf("capture device rejected: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	d.cmd = cmd
	d.waitCh = waitCh
	d.watcher = watcher
	d.offset = 0
	d.finalized = false
	return nil
}

// ReadChunk blocks until ffmpeg appends to the spool file, then returns the
// newly written bytes. Returns io.EOF after Finalize.
func (d *FFmpegCaptureDevice) ReadChunk() ([]byte, error) {
	d.mu.Lock()
	watcher := d.watcher
	d.mu.Unlock()
	if watcher == nil {
		return nil, io.EOF
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil, io.EOF
			}
			if event.Name != d.spoolFile || event.Op&fsnotify.Write != fsnotify.Write {
				continue
			}
			chunk, err := d.readAppended()
			if err != nil {
				return nil, err
			}
			if len(chunk) == 0 {
				continue
			}
			return chunk, nil

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil, io.EOF
			}
			logger.Warn("spool watcher error", logger.ErrorField(err))
		}
	}
}

// readAppended reads the spool file from the last offset.
func (d *FFmpegCaptureDevice) readAppended() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.Open(d.spoolFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(d.offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	d.offset += int64(len(data))
	return data, nil
}

// Finalize stops ffmpeg gracefully so the container is closed properly,
// then returns whatever the spool file holds beyond the last read offset.
func (d *FFmpegCaptureDevice) Finalize() ([]byte, error) {
	d.mu.Lock()
	cmd := d.cmd
	waitCh := d.waitCh
	watcher := d.watcher
	d.finalized = true
	d.mu.Unlock()

	if cmd == nil {
		return nil, fmt.Errorf("capture not started")
	}

	// SIGINT lets ffmpeg flush and close the webm container.
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		cmd.Process.Kill()
	}
	select {
	case <-waitCh:
	case <-time.After(5 * time.Second):
		cmd.Process.Kill()
		<-waitCh
	}

	if watcher != nil {
		watcher.Close()
	}

	tail, err := d.readAppended()
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read spool tail: %w", err)
	}
	return tail, nil
}

// Release removes the spool file and clears process state.
func (d *FFmpegCaptureDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cmd != nil && !d.finalized {
		d.cmd.Process.Kill()
		<-d.waitCh
	}
	if d.watcher != nil && !d.finalized {
		d.watcher.Close()
	}
	if d.spoolFile != "" {
		os.Remove(d.spoolFile)
	}
	d.cmd = nil
	d.waitCh = nil
	d.watcher = nil
	d.spoolFile = ""
	d.offset = 0
}

// splitInputSpec splits "format:device" into its parts, defaulting the
// device to "default".
func splitInputSpec(spec string) (format, device string) {
	for i := 0; i < len(spec); i++ {
		if spec[i] == ':' {
			return spec[:i], spec[i+1:]
		}
	}
	return spec, "default"
}
