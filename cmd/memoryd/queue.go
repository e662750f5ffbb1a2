package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/clmem/memoryd/internal/lifecycle"
)

func buildQueueCmd() *cobra.Command {
	var dataDirFlag string

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the daemon's pending-message queue",
	}
	cmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Override the data directory")

	cmd.AddCommand(
		buildQueueViewCmd(&dataDirFlag),
		buildQueueClearFailedCmd(&dataDirFlag),
	)
	return cmd
}

func buildQueueViewCmd(dataDirFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "List pending messages across every session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callQueueAPI(cmd, *dataDirFlag, http.MethodGet, "/api/pending-queue", nil)
		},
	}
}

func buildQueueClearFailedCmd(dataDirFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-failed",
		Short: "Delete every failed message from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callQueueAPI(cmd, *dataDirFlag, http.MethodDelete, "/api/pending-queue/failed", nil)
		},
	}
}

// callQueueAPI resolves the running daemon's port from its pid file and
// relays a request to it, printing the response body verbatim; the queue
// CLI has no direct store access, matching the daemon's single-writer
// discipline.
func callQueueAPI(cmd *cobra.Command, dataDirOverride, method, path string, body io.Reader) error {
	dataDir := lifecycle.ResolveDataDir(dataDirOverride)
	pf, err := lifecycle.ReadPIDFile(filepath.Join(dataDir, "worker.pid"))
	if err != nil {
		return fmt.Errorf("queue: daemon is not running (%w)", err)
	}

	req, err := http.NewRequestWithContext(cmd.Context(), method, fmt.Sprintf("http://127.0.0.1:%d%s", pf.Port, path), body)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("queue: request to daemon failed: %w", err)
	}
	defer resp.Body.Close()

	var pretty any
	if json.NewDecoder(resp.Body).Decode(&pretty) == nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(pretty)
	}
	return nil
}
