package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"auction-parser/extractor"
)

func newParseCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "parse",
		Short: "Parse a single listing page and save its cars",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd.Context(), func(ctx context.Context, m *extractor.Manager) (*extractor.Task, error) {
				return m.StartSingle(ctx, url)
			})
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "Listing page URL")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newMultiCmd() *cobra.Command {
	var start, end int
	cmd := &cobra.Command{
		Use:   "multi",
		Short: "Walk consecutive listing pages and save their cars",
		Long: `Walks listing pages starting at --start. With --end the range is fixed
(at most 50 pages); without it the run stops after consecutive empty pages
or the configured page limit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var endPage *int
			if cmd.Flags().Changed("end") {
				endPage = &end
			}
			pages := extractor.NormalizePageRange(start, endPage)
			return runTask(cmd.Context(), func(ctx context.Context, m *extractor.Manager) (*extractor.Task, error) {
				return m.StartMulti(ctx, pages)
			})
		},
	}
	cmd.Flags().IntVar(&start, "start", 1, "First page")
	cmd.Flags().IntVar(&end, "end", 0, "Last page (omit for auto mode)")
	return cmd
}

// runTask starts a run and waits for it. An interrupt asks the run to stop
// at its next checkpoint instead of killing it.
func runTask(parent context.Context, start func(context.Context, *extractor.Manager) (*extractor.Task, error)) error {
	a, err := newApp(parent, true)
	if err != nil {
		return err
	}
	defer a.Close()

	manager := extractor.NewManager(a.config, a.logger, a.adapter, a.store)
	task, err := start(parent, manager)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-task.Done():
	case <-ctx.Done():
		a.logger.Info("Interrupt received, stopping after the current page")
		task.Stop()
	}

	sum, runErr := task.Wait()
	out, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	fmt.Println(string(out))
	return runErr
}
