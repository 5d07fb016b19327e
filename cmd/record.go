package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"echonote/config"
	"echonote/core/record"
	"echonote/core/transcribe"
	"echonote/storage"

	"github.com/spf13/cobra"
)

var (
	recordInput    string
	recordDuration time.Duration
	recordNoText   bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a voice memo from the microphone",
	Long: `Capture audio from the configured input device until interrupted
(or for --duration), then upload the recording and print its transcription.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()

		device := record.NewFFmpegCaptureDevice("", recordInput, cfg.RecordSpoolDir)
		session := record.NewSession(record.NewDeviceGuard(), device, "cli")

		if err := session.Start(); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
		fmt.Println("Recording... press Ctrl-C to stop.")

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		if recordDuration > 0 {
			select {
			case <-stop:
			case <-time.After(recordDuration):
			}
		} else {
			<-stop
		}

		artifact, err := session.Stop()
		if err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}
		fmt.Printf("Recorded %d bytes (%s)\n", artifact.Size(), artifact.ContentType)

		if recordNoText {
			return nil
		}

		store, err := storage.NewAudioStore(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize audio store: %w", err)
		}
		pipeline := transcribe.NewPipeline(store, transcribe.NewOpenAIProvider(cfg))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		result, err := pipeline.Transcribe(ctx, artifact)
		if err != nil {
			return fmt.Errorf("transcription failed: %w", err)
		}

		fmt.Printf("Audio: %s\n", result.AudioURL)
		fmt.Println(result.Text)
		return nil
	},
}

func init() {
	recordCmd.Flags().StringVar(&recordInput, "input", "alsa:default", "capture input as format:device")
	recordCmd.Flags().DurationVar(&recordDuration, "duration", 0, "stop automatically after this long (0 waits for Ctrl-C)")
	recordCmd.Flags().BoolVar(&recordNoText, "no-transcribe", false, "skip upload and transcription")
	rootCmd.AddCommand(recordCmd)
}
