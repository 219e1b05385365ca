package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"agentstudio/internal/artifact"
)

func newStatusCommand(root *rootOptions) *cobra.Command {
	var watch, plain bool
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show the state of an existing task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := root.load(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			started, err := track(rt, args[0])
			if err != nil {
				return err
			}
			if watch {
				return follow(ctx, rt, !plain && isTTY(), summarised)
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return follow(ctx, rt, false, polledOnce(started))
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep following until the task ends")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up waiting for the first status after this long")
	cmd.Flags().BoolVar(&plain, "plain", false, "Print progress lines instead of the live view")
	return cmd
}

func newScreenshotsCommand(root *rootOptions) *cobra.Command {
	var saveDir string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:     "screenshots <task-id>",
		Aliases: []string{"screenshot"},
		Short:   "Resolve the screenshot of every step of a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := root.load(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			states := rt.service.Subscribe(4)
			started, err := track(rt, args[0])
			if err != nil {
				rt.service.Unsubscribe(states)
				return err
			}
			ready := polledOnce(started)
			st := rt.service.Snapshot()
			for !ready(st) {
				select {
				case next, ok := <-states:
					if !ok {
						return fmt.Errorf("task %s: status stream closed", args[0])
					}
					st = next
				case <-ctx.Done():
					rt.service.Unsubscribe(states)
					return ctx.Err()
				}
			}
			rt.service.Unsubscribe(states)
			if st.LastError != "" && len(st.Steps) == 0 {
				return fmt.Errorf("%s", st.LastError)
			}

			results, err := rt.service.ResolveAllScreenshots(ctx)
			if err != nil {
				return err
			}
			rt.printer.Screenshots(st.Steps, results)

			if saveDir == "" {
				return nil
			}
			if err := os.MkdirAll(saveDir, 0o755); err != nil {
				return err
			}
			for _, step := range st.Steps {
				res, ok := results[step.ID]
				if !ok || res.Kind != artifact.KindImage {
					continue
				}
				path := filepath.Join(saveDir, fmt.Sprintf("step-%03d%s", step.Number, imageExtension(res.ContentType)))
				if err := os.WriteFile(path, res.Bytes, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(rt.out, "saved %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&saveDir, "save", "", "Write image screenshots into this directory")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Give up after this long")
	return cmd
}

func imageExtension(contentType string) string {
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ".png"
	}
	return exts[0]
}

func newFilesCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "file <task-id> <file-name>",
		Aliases: []string{"files"},
		Short:   "Print a download link for a generated file",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := root.load(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			link, err := rt.client.FetchFileDownloadURL(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(rt.out, link)
			return nil
		},
	}
}
