package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/approval"
	"github.com/ShayCichocki/conductor/internal/httpapi"
)

var (
	serveAddr   string
	serveNoGate bool
	serveWatch  bool
	serveRetain string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the workflow HTTP API",
	Long: `Start the HTTP API serving workflow chat (JSON, SSE and WebSocket),
session history, template and worker listings, and the approval queue.

Workers matching approval.gated_workers or approval.sensitive_patterns wait
for a reviewer before running. Resolve them with 'conductor approvals'.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveNoGate, "no-gate", false, "Run every step without approval")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Reload templates when files change (overrides workflow.watch_templates)")
	serveCmd.Flags().StringVar(&serveRetain, "retain", "24h", "How long resolved approval requests are kept")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	retain, err := parseDuration(serveRetain)
	if err != nil {
		return fmt.Errorf("invalid --retain: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, shutting down...")
		cancel()
	}()

	a, err := newApp(ctx, cfg, appOptions{
		gate:  !serveNoGate,
		watch: serveWatch || cfg.Workflow.WatchTemplates,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Approval.SweepSchedule != "" {
		sweeper := approval.NewSweeper(a.approvals, cfg.Approval.SweepSchedule, retain)
		if err := sweeper.Start(); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	server := httpapi.New(httpapi.RequiredConfig{
		Engine:    a.engine,
		Approvals: a.approvals,
	},
		httpapi.WithAddr(cfg.Server.Addr),
		httpapi.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		httpapi.WithTemplates(a.templates),
		httpapi.WithWorkers(a.workers),
	)

	printStatus("✓", fmt.Sprintf("%d workers, %d templates", a.workers.Count(), a.templates.Len()), color.FgGreen)
	if a.db != nil {
		printStatus("✓", fmt.Sprintf("State: %s (%s)", a.db.Path(), a.db.Driver()), color.FgGreen)
	} else {
		printStatus("⚠", "State persistence disabled (state.path is empty)", color.FgYellow)
	}
	fmt.Printf("\n%s Listening on http://%s\n", color.GreenString("✓"), cfg.Server.Addr)

	return server.Start(ctx)
}
