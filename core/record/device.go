package record

// ArtifactContentType is the container format every capture device produces.
const ArtifactContentType = "audio/webm"

// Artifact is a finalized, immutable audio recording ready for upload and
// transcription. Produced exactly once per completed recording.
type Artifact struct {
	Data        []byte
	ContentType string
}

// Size returns the artifact length in bytes.
func (a *Artifact) Size() int64 {
	return int64(len(a.Data))
}

// CaptureDevice abstracts a platform audio input facility. Implementations
// hand out encoded chunks of the fixed container format while capturing and
// flush any buffered tail on Finalize.
type CaptureDevice interface {
	// Acquire takes exclusive hold of the underlying input. It fails
	// rather than blocks when the input is busy or denied.
	Acquire() error

	// ReadChunk returns the next encoded chunk. It blocks until data is
	// available and returns io.EOF once capture has ended.
	ReadChunk() ([]byte, error)

	// Finalize stops capture and returns any remaining buffered bytes.
	// A pending ReadChunk observes io.EOF once Finalize begins.
	Finalize() ([]byte, error)

	// Release frees the input handle. Safe to call after Finalize or a
	// failed Acquire.
	Release()
}
