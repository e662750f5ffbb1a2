package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/clmem/memoryd/internal/health"
	"github.com/clmem/memoryd/internal/lifecycle"
)

func buildStatusCmd() *cobra.Command {
	var (
		dataDirFlag string
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon is running and its health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), dataDirFlag, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&dataDirFlag, "data-dir", "", "Override the data directory")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print status as JSON")
	return cmd
}

type statusReport struct {
	Running     bool   `json:"running"`
	DataDir     string `json:"dataDir"`
	PID         int    `json:"pid,omitempty"`
	Port        int    `json:"port,omitempty"`
	Version     string `json:"version,omitempty"`
	Initialized bool   `json:"initialized,omitempty"`
	MCPReady    bool   `json:"mcpReady,omitempty"`
	Error       string `json:"error,omitempty"`
}

func runStatus(ctx context.Context, out io.Writer, dataDirOverride string, jsonOutput bool) error {
	dataDir := lifecycle.ResolveDataDir(dataDirOverride)
	report := statusReport{DataDir: dataDir}

	pidPath := filepath.Join(dataDir, "worker.pid")
	pf, err := lifecycle.ReadPIDFile(pidPath)
	if err != nil {
		report.Error = "no pid file found; daemon is not running"
		return printStatus(out, report, jsonOutput)
	}
	report.PID = pf.PID
	report.Port = pf.Port

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := health.WaitForHealth(checkCtx, "127.0.0.1", pf.Port, 100*time.Millisecond); err != nil {
		report.Error = fmt.Sprintf("pid file present but daemon unreachable: %v", err)
		return printStatus(out, report, jsonOutput)
	}
	report.Running = true

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/api/health", pf.Port))
	if err == nil {
		defer resp.Body.Close()
		var body health.StatusResponse
		if json.NewDecoder(resp.Body).Decode(&body) == nil {
			report.Initialized = body.Initialized
			report.MCPReady = body.MCPReady
		}
	}
	report.Version = health.Version

	return printStatus(out, report, jsonOutput)
}

func printStatus(out io.Writer, report statusReport, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintln(out, "claude-mem memory daemon")
	fmt.Fprintf(out, "  data dir:    %s\n", report.DataDir)
	if report.Error != "" {
		fmt.Fprintf(out, "  status:      not running (%s)\n", report.Error)
		return nil
	}
	fmt.Fprintf(out, "  status:      running\n")
	fmt.Fprintf(out, "  pid:         %d\n", report.PID)
	fmt.Fprintf(out, "  port:        %d\n", report.Port)
	fmt.Fprintf(out, "  version:     %s\n", report.Version)
	fmt.Fprintf(out, "  initialized: %t\n", report.Initialized)
	fmt.Fprintf(out, "  mcp ready:   %t\n", report.MCPReady)
	return nil
}
