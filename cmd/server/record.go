package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yegors/RTLSDR-Airband/internal/config"
	"github.com/yegors/RTLSDR-Airband/internal/recorder"
)

func newRecordCmd() *cobra.Command {
	var opts recorder.Options
	var logLevel string

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a running WAV stream to a file",
		Example: `  audio-fanout record --address 127.0.0.1:8000 --output out.wav --duration 30s
  audio-fanout record --transport websocket --address ws://127.0.0.1:8000/ --output out.wav`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := initLogger(config.LoggingConfig{Level: logLevel, Format: "text", Output: "stderr"})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := recorder.Record(ctx, opts, logger)
			if err != nil {
				return err
			}

			fmt.Printf("Recorded %s (%d frames, %d channels, %d Hz) to %s\n",
				result.Duration, result.Frames, result.Info.Channels, result.Info.SampleRate, opts.Output)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Transport, "transport", "tcp", "listener transport (tcp or websocket)")
	cmd.Flags().StringVar(&opts.Address, "address", "127.0.0.1:8000", "host:port, or ws:// URL for websocket")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "recording.wav", "output WAV file")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this much audio (0 records until interrupted)")
	cmd.Flags().DurationVar(&opts.DialTimeout, "dial-timeout", 10*time.Second, "connection timeout")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	return cmd
}
