package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/bulkloader/internal/checkpoint"
	"github.com/hochfrequenz/bulkloader/internal/config"
	"github.com/hochfrequenz/bulkloader/internal/directory"
	"github.com/hochfrequenz/bulkloader/internal/domain"
	"github.com/hochfrequenz/bulkloader/internal/history"
	"github.com/hochfrequenz/bulkloader/internal/notify"
	"github.com/hochfrequenz/bulkloader/internal/orchestrator"
	"github.com/hochfrequenz/bulkloader/internal/parser"
	"github.com/hochfrequenz/bulkloader/internal/progress"
	"github.com/hochfrequenz/bulkloader/internal/spool"
	"github.com/hochfrequenz/bulkloader/internal/sweeper"
	"github.com/hochfrequenz/bulkloader/web/api"
)

var (
	servePort     int
	purgeAgeHours float64
	historyLimit  int
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server, retention sweeper and spool watcher",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)

	submitCmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Submit a CSV batch",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit,
	}
	rootCmd.AddCommand(submitCmd)

	statusCmd := &cobra.Command{
		Use:   "status BATCH",
		Short: "Show progress for one batch",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List resumable batches",
		RunE:  runList,
	}
	rootCmd.AddCommand(listCmd)

	resumeCmd := &cobra.Command{
		Use:   "resume BATCH",
		Short: "Resume a failed batch",
		Args:  cobra.ExactArgs(1),
		RunE:  runResume,
	}
	rootCmd.AddCommand(resumeCmd)

	abandonCmd := &cobra.Command{
		Use:   "abandon BATCH",
		Short: "Discard a batch and its checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  runAbandon,
	}
	rootCmd.AddCommand(abandonCmd)

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove batches older than the retention horizon",
		RunE:  runPurge,
	}
	purgeCmd.Flags().Float64Var(&purgeAgeHours, "max-age-hours", 0, "age threshold in hours (overrides config)")
	rootCmd.AddCommand(purgeCmd)

	historyCmd := &cobra.Command{
		Use:   "history [BATCH]",
		Short: "Show recent processing runs",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum runs to show")
	rootCmd.AddCommand(historyCmd)
}

// eventFanout forwards live-progress events to several sinks
type eventFanout []orchestrator.EventSink

func (f eventFanout) Publish(event string, data interface{}) {
	for _, sink := range f {
		sink.Publish(event, data)
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// buildOrchestrator wires the batch engine from config. The returned
// history store may be nil when the database cannot be opened; the
// engine runs without an audit trail in that case.
func buildOrchestrator(cfg *config.Config) (*orchestrator.Orchestrator, *history.Store, error) {
	checkpoints, err := checkpoint.New(cfg.Storage.CheckpointDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening checkpoint store: %w", err)
	}

	var runs *history.Store
	if cfg.Storage.DatabasePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DatabasePath), 0o755); err == nil {
			runs, err = history.New(cfg.Storage.DatabasePath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: run history disabled: %v\n", err)
				runs = nil
			}
		}
	}

	client := directory.NewHTTPClient(cfg.Directory.BaseURL, cfg.Directory.Timeout(), cfg.Directory.ConnectTimeout())
	tracker := progress.New()

	opts := orchestrator.Options{
		MaxRows:       cfg.Processing.MaxRecords,
		MaxConcurrent: cfg.Processing.MaxConcurrent,
	}

	var runStore orchestrator.RunStore
	if runs != nil {
		runStore = runs
	}
	return orchestrator.New(client, tracker, checkpoints, runStore, opts), runs, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Web.Port = servePort
	}

	orch, runs, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}
	if runs != nil {
		defer runs.Close()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)

	var lister api.RunLister
	if runs != nil {
		lister = runs
	}
	server := api.NewServer(orch, lister, addr, cfg.Processing.MaxRecords)

	sinks := eventFanout{server}
	if cfg.Notifications.SlackWebhookURL != "" {
		slack := notify.NewSlackNotifier(cfg.Notifications.SlackWebhookURL)
		sinks = append(sinks, notify.NewBatchSink(slack))
	}
	orch.SetEvents(sinks)

	sw, err := sweeper.New(orch, cfg.Retention.MaxAge(), cfg.Retention.SweepCron)
	if err != nil {
		return err
	}
	sw.Start()
	defer sw.Stop()

	if cfg.Spool.Dir != "" {
		watcher, err := spool.NewWatcher(cfg.Spool.Dir, orch, cfg.Processing.MaxRecords)
		if err != nil {
			return fmt.Errorf("starting spool watcher: %w", err)
		}
		watcher.Start(context.Background())
		defer watcher.Stop()
		fmt.Printf("Watching spool directory %s\n", cfg.Spool.Dir)
	}

	fmt.Printf("Listening on http://%s\n", addr)
	return server.Start()
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := parser.ParseCSV(f, cfg.Processing.MaxRecords)
	if err != nil {
		return err
	}

	orch, runs, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}
	if runs != nil {
		defer runs.Close()
	}

	fmt.Printf("Submitting %d records...\n", len(records))
	result, err := orch.Submit(context.Background(), records)
	if err != nil {
		return err
	}

	printResult(result)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	orch, runs, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}
	if runs != nil {
		defer runs.Close()
	}

	p, err := orch.Progress(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Batch:     %s\n", p.BatchID)
	fmt.Printf("Status:    %s\n", p.Status)
	fmt.Printf("Progress:  %d/%d processed, %d failed\n", p.ProcessedCount, p.Total, p.FailedCount)
	fmt.Printf("Started:   %s (%s)\n", p.StartTime.Format(time.RFC3339), humanize.Time(p.StartTime))
	if p.Activated {
		fmt.Println("Activated: yes")
	}
	if p.IsResumable {
		fmt.Printf("Resumable: from row %d (%s)\n", p.ResumeFromRow, p.FailureReason)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nROW\tNAME\tSTATUS\tERROR")
	for _, rec := range p.Records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", rec.Row, rec.Name, rec.Status, rec.ErrorMessage)
	}
	return w.Flush()
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	orch, runs, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}
	if runs != nil {
		defer runs.Close()
	}

	batches := orch.ListResumable()
	if len(batches) == 0 {
		fmt.Println("No resumable batches")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BATCH\tPROGRESS\tFAILED\tRESUME FROM\tRETRIES\tCHECKPOINT")
	for _, b := range batches {
		age := ""
		if b.LastCheckpointTime != nil {
			age = humanize.Time(*b.LastCheckpointTime)
		}
		fmt.Fprintf(w, "%s\t%d/%d\t%d\t%d\t%d\t%s\n",
			b.BatchID, b.ProcessedCount, b.Total, b.FailedCount, b.ResumeFromRow, b.ResumeCount, age)
	}
	return w.Flush()
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	orch, runs, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}
	if runs != nil {
		defer runs.Close()
	}

	fmt.Printf("Resuming batch %s...\n", args[0])
	result, err := orch.Resume(context.Background(), args[0])
	if err != nil {
		return err
	}

	printResult(result)
	return nil
}

func runAbandon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	orch, runs, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}
	if runs != nil {
		defer runs.Close()
	}

	if err := orch.Abandon(args[0]); err != nil {
		return err
	}
	fmt.Printf("Abandoned batch %s\n", args[0])
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	maxAge := cfg.Retention.MaxAge()
	if purgeAgeHours > 0 {
		maxAge = time.Duration(purgeAgeHours * float64(time.Hour))
	}

	orch, runs, err := buildOrchestrator(cfg)
	if err != nil {
		return err
	}
	if runs != nil {
		defer runs.Close()
	}

	removed, err := orch.Purge(maxAge)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d batches older than %s\n", removed, maxAge)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	runs, err := history.New(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening run history: %w", err)
	}
	defer runs.Close()

	var entries []history.Run
	if len(args) > 0 {
		entries, err = runs.ListRunsForBatch(args[0])
	} else {
		entries, err = runs.ListRuns(historyLimit)
	}
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BATCH\tKIND\tSTATUS\tPROCESSED\tFAILED\tACTIVATED\tWHEN")
	for _, r := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%v\t%s\n",
			r.BatchID, r.Kind, r.Status, r.Processed, r.Failed, r.Activated, humanize.Time(r.StartedAt))
	}
	return w.Flush()
}

func printResult(r *domain.BatchResult) {
	fmt.Printf("Batch %s: %d/%d processed, %d failed (%.1fs)\n",
		r.BatchID, r.ProcessedCount, r.Total, r.FailedCount, r.ProcessingSeconds)
	if r.Activated {
		fmt.Println("All records activated")
	}
	if r.Resumable {
		fmt.Printf("Batch is resumable; run: bulkloader resume %s\n", r.BatchID)
		for _, rec := range r.Records {
			if rec.ErrorMessage != "" {
				fmt.Printf("  row %d (%s): %s\n", rec.Row, rec.Name, rec.ErrorMessage)
			}
		}
	}
}
