package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "speech-coach",
		Short: "Narration session service: live transcript, timer and speech analysis",
		Long: `Narration session service.

A session records speech through a recognition engine, keeps a growing
de-duplicated transcript with an elapsed-time display, and on stop sends the
transcript to the analysis service for speaking-rate and filler-word feedback.

Configuration is read from the environment (HTTP_PORT, ANALYSIS_BASE_URL,
RECOGNITION_PROVIDER, KAFKA_ENABLED, LOG_LEVEL, ...).`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newRecordCommand())
	root.AddCommand(newWatchCommand())
	return root
}
