package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"agentstudio/internal/browseruse"
	"agentstudio/internal/output"
	"agentstudio/internal/taskstate"
	"agentstudio/internal/tasktemplate"
)

type runOptions struct {
	website  string
	taskType string
	dryRun   bool
	noWait   bool
	plain    bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [company name]",
		Short: "Start a research task and follow it to completion",
		Example: `  agentstudio run "Acme Robotics" --website acme.example
  agentstudio run Stripe --type vc-analysis --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResearch(cmd, root, opts, args)
		},
	}
	cmd.Flags().StringVarP(&opts.website, "website", "w", "", "Company website")
	cmd.Flags().StringVarP(&opts.taskType, "type", "t", "", "Task template id (see `agentstudio templates`)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Print the run-task payload without sending it")
	cmd.Flags().BoolVar(&opts.noWait, "no-wait", false, "Print the task id and exit once the task is created")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Print progress lines instead of the live view")
	return cmd
}

func runResearch(cmd *cobra.Command, root *rootOptions, opts *runOptions, args []string) error {
	rt, err := root.load(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	req := browseruse.StartRequest{
		CompanyName: strings.TrimSpace(strings.Join(args, " ")),
		Website:     opts.website,
		TaskType:    opts.taskType,
	}
	if req.CompanyName == "" && isTTY() {
		if req, err = promptRequest(rt.catalog, req); err != nil {
			return err
		}
	}
	if req.TaskType == "" {
		req.TaskType = rt.config.DefaultTaskType
	}

	if opts.dryRun {
		payload, err := rt.client.BuildRunTaskRequest(req)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(rt.out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	taskID, err := rt.service.StartResearch(ctx, req)
	if err != nil {
		return err
	}
	if opts.noWait {
		fmt.Fprintln(rt.out, taskID)
		return nil
	}
	return follow(ctx, rt, !opts.plain && isTTY(), summarised)
}

func promptRequest(catalog *tasktemplate.Catalog, req browseruse.StartRequest) (browseruse.StartRequest, error) {
	app := catalog.App()
	company := promptui.Prompt{
		Label: app.Name + " · company name",
		Validate: func(input string) error {
			if strings.TrimSpace(input) == "" {
				return errors.New("company name is required")
			}
			return nil
		},
	}
	name, err := company.Run()
	if err != nil {
		return req, err
	}
	req.CompanyName = strings.TrimSpace(name)

	if req.Website == "" {
		website := promptui.Prompt{Label: "Website (optional)"}
		if req.Website, err = website.Run(); err != nil {
			return req, err
		}
	}

	if req.TaskType == "" {
		templates := catalog.List()
		selector := promptui.Select{
			Label: "Task type",
			Items: templates,
			Templates: &promptui.SelectTemplates{
				Label:    "{{ . }}",
				Active:   "▸ {{ .Name | cyan }} {{ .ID | faint }}",
				Inactive: "  {{ .Name }} {{ .ID | faint }}",
				Selected: "✔ {{ .Name | green }}",
				Details:  "{{ .Description }}",
			},
			Size: len(templates),
		}
		for i, t := range templates {
			if t.ID == catalog.DefaultID() {
				selector.CursorPos = i
			}
		}
		idx, _, err := selector.Run()
		if err != nil {
			return req, err
		}
		req.TaskType = templates[idx].ID
	}
	return req, nil
}

// summarised reports whether the final summary is in.
func summarised(st taskstate.State) bool {
	return st.Phase == taskstate.PhaseTerminal && st.Summary != ""
}

// polledOnce reports whether a status poll has landed since the store was at
// version started, the version of the Start action. A terminal task also
// waits for its summary.
func polledOnce(started uint64) func(taskstate.State) bool {
	return func(st taskstate.State) bool {
		if st.Phase == taskstate.PhaseTerminal {
			return summarised(st)
		}
		return st.Version > started
	}
}

// track starts polling taskID and returns the store version of its Start.
func track(rt *runtime, taskID string) (uint64, error) {
	before := rt.service.Snapshot().Version
	if err := rt.service.Track(taskID); err != nil {
		return 0, err
	}
	return before + 1, nil
}

// follow streams state until until reports true, polling stops, or ctx ends,
// then prints the final state.
func follow(ctx context.Context, rt *runtime, live bool, until func(taskstate.State) bool) error {
	states := rt.service.Subscribe(16)
	defer rt.service.Unsubscribe(states)

	if live {
		model := output.NewWatchModel(states, rt.service.Snapshot(), rt.catalog.App(), markdownFor(rt.out, output.TerminalWidth(rt.out)))
		final, err := tea.NewProgram(model, tea.WithContext(ctx), tea.WithOutput(rt.out)).Run()
		if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return err
		}
		if m, ok := final.(output.WatchModel); ok && m.Detached() {
			fmt.Fprintf(rt.out, "Stopped following task %s. It keeps running remotely.\n", m.State().TaskID)
		}
		return nil
	}

	st := rt.service.Snapshot()
	lastLine := ""
	done := rt.service.Done()
	var grace <-chan time.Time
	for !until(st) {
		if line := st.ProgressMessage(); line != "" && line != lastLine {
			rt.printer.Progress(st)
			lastLine = line
		}
		select {
		case next, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			st = next
		case <-done:
			// A timeout or fatal stop records its summary just after polling ends.
			done = nil
			grace = time.After(time.Second)
		case <-grace:
			rt.printer.State(rt.service.Snapshot())
			return nil
		case <-ctx.Done():
			rt.printer.State(rt.service.Snapshot())
			return ctx.Err()
		}
	}
	rt.printer.State(st)
	return nil
}
