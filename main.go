package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	ExitSuccess      = 0
	ExitBatchFailed  = 1 // At least one video ended without a transcript
	ExitRuntimeError = 2
)

var version = "dev"

// BatchFailureError reports a run that completed but left some videos
// without a transcript.
type BatchFailureError struct {
	Failed int
	Total  int
}

func (e *BatchFailureError) Error() string {
	return fmt.Sprintf("%d of %d videos failed", e.Failed, e.Total)
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "yt-transcripts",
		Short: "Extract YouTube transcripts in bulk",
		Long: `yt-transcripts extracts transcripts for batches of YouTube videos.

Each video is tried against the captions library, the same library through a
proxy pool, a direct watch page scrape and finally a paid transcription
service, stopping at the first strategy that returns text.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newCheckProxiesCommand())
	cmd.AddCommand(newHistoryCommand())
	cmd.AddCommand(newForgetCommand())

	return cmd
}

func execute() error {
	return newRootCommand().Execute()
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var batchErr *BatchFailureError
		if errors.As(err, &batchErr) {
			os.Exit(ExitBatchFailed)
		}
		os.Exit(ExitRuntimeError)
	}
}
