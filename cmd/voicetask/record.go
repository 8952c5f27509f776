package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/voicetask/internal/config"
	"github.com/GriffinCanCode/voicetask/internal/orchestrator"
	"github.com/GriffinCanCode/voicetask/internal/render"
)

func recordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record",
		Short: "Record a voice memo and add the tasks it mentions",
		Long: `Record from the microphone until Enter is pressed (or the maximum
recording duration is reached), then transcribe the memo, extract the
tasks it mentions and append them to the task list.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRecord(cmd.Context(), config.Load(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runRecord(parent context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close(context.Background()) }()

	p, err := openPipeline(ctx, cfg, sess)
	if err != nil {
		return err
	}
	defer p.close()

	done := make(chan struct{})
	defer close(done)
	go printEvents(out, p.orch.Events(), done)

	stop := make(chan struct{})
	go func() {
		_, _ = bufio.NewReader(in).ReadString('\n')
		close(stop)
	}()

	res, err := p.orch.Run(ctx, stop)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	return render.Text(out, res.Tasks)
}

func printEvents(out io.Writer, events <-chan orchestrator.Event, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev := <-events:
			switch ev.Kind {
			case orchestrator.EventStatus, orchestrator.EventNotice:
				fmt.Fprintf(out, "» %s\n", ev.Message)
			case orchestrator.EventTranscript:
				fmt.Fprintf(out, "  %q\n", ev.Text)
			}
		}
	}
}

// interactive reports whether stdin is a terminal.
func interactive() bool {
	fi, err := os.Stdin.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
