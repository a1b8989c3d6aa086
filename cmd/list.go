package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"toolplane/internal/lifecycle"
)

var listEndpoint string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List services known to a running control plane",
	Long: `Queries a running toolplane instance over its control API and prints the
service table with current lifecycle states.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(listEndpoint + "/api/v1/services")
	if err != nil {
		return fmt.Errorf("failed to reach control plane at %s: %w", listEndpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("control plane returned %s", resp.Status)
	}

	var views []lifecycle.View
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(views) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No services configured")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"NAME", "STATUS", "LAST ACTIVITY", "FAILURES"})
	for _, v := range views {
		lastActivity := "-"
		if !v.LastActivityAt.IsZero() {
			lastActivity = v.LastActivityAt.Format(time.RFC3339)
		}
		t.AppendRow(table.Row{v.Name, colorStatus(v.Status), lastActivity, v.ConsecutiveFailures})
	}
	t.Render()
	return nil
}

func colorStatus(s lifecycle.Status) string {
	switch s {
	case lifecycle.StatusRunning:
		return text.FgGreen.Sprint(s)
	case lifecycle.StatusSleeping, lifecycle.StatusWaking, lifecycle.StatusStarting:
		return text.FgYellow.Sprint(s)
	case lifecycle.StatusError:
		return text.FgRed.Sprint(s)
	default:
		return string(s)
	}
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listEndpoint, "endpoint", "http://localhost:8090", "Base URL of the control API")
}
