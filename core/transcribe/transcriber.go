package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"echonote/core/record"
	"echonote/logger"

	"github.com/google/uuid"
)

// Stage names a pipeline step.
type Stage string

const (
	StageUpload  Stage = "upload"
	StageService Stage = "service"
)

// StageError reports which pipeline stage failed. The caller may retry the
// same artifact; the pipeline itself never retries and never partially
// applies anything to note content.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("transcription failed at %s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Uploader stages an artifact and returns its reference URL.
// *storage.AudioStore satisfies this.
type Uploader interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error)
}

// Provider invokes the external transcription service.
type Provider interface {
	Transcribe(ctx context.Context, audio io.Reader, fileName string) (string, error)
}

// Result is a completed transcription.
type Result struct {
	// Text is the plain text output of the service.
	Text string
	// AudioURL is the staged artifact's reference, usable as the note's
	// playback URL.
	AudioURL string
}

// Pipeline uploads finished recordings and turns them into text.
type Pipeline struct {
	uploader Uploader
	provider Provider
}

// NewPipeline creates a transcription pipeline.
func NewPipeline(uploader Uploader, provider Provider) *Pipeline {
	return &Pipeline{uploader: uploader, provider: provider}
}

// Transcribe stages the artifact and invokes the transcription service.
// The artifact must be a completed recording; passing a partial buffer is a
// programming error. Failures carry the stage they occurred at and are safe
// to retry with the same artifact.
func (p *Pipeline) Transcribe(ctx context.Context, artifact *record.Artifact) (*Result, error) {
	if artifact == nil || len(artifact.Data) == 0 {
		panic("transcribe: artifact is not a completed recording")
	}

	objectName := fmt.Sprintf("audio/%s.webm", uuid.New().String())

	start := time.Now()
	audioURL, err := p.uploader.Upload(ctx, objectName, bytes.NewReader(artifact.Data), artifact.Size(), artifact.ContentType)
	if err != nil {
		return nil, &StageError{Stage: StageUpload, Err: err}
	}

	text, err := p.provider.Transcribe(ctx, bytes.NewReader(artifact.Data), objectName)
	if err != nil {
		return nil, &StageError{Stage: StageService, Err: err}
	}

	logger.Info("transcription completed",
		logger.String("object", objectName),
		logger.Int("bytes", len(artifact.Data)),
		logger.Duration("took", time.Since(start)))

	return &Result{Text: text, AudioURL: audioURL}, nil
}

// AppendTranscript merges transcribed text into existing note content. The
// separator is exactly one blank line, and only when prior content is
// non-empty; neither side is trimmed.
func AppendTranscript(prior, text string) string {
	if prior == "" {
		return text
	}
	return prior + "\n\n" + text
}
