package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/petsync/internal/adapters/gateway"
	"github.com/jbctechsolutions/petsync/internal/adapters/identity"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/localstate"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/service"
	"github.com/jbctechsolutions/petsync/internal/infrastructure/storage"
	"github.com/jbctechsolutions/petsync/internal/presentation/cli/output"
)

// ActivityInfo is one journal entry in the status report.
type ActivityInfo struct {
	Kind        string `json:"kind"`
	Ref         string `json:"ref,omitempty"`
	Status      string `json:"status"`
	Detail      string `json:"detail,omitempty"`
	CompletedAt string `json:"completed_at"`
}

// StatusInfo is the full status report.
type StatusInfo struct {
	Version        string         `json:"version"`
	Paired         bool           `json:"paired"`
	Email          string         `json:"email,omitempty"`
	DeviceID       string         `json:"device_id,omitempty"`
	DeviceName     string         `json:"device_name,omitempty"`
	AgentInstalled bool           `json:"agent_installed"`
	AgentHome      string         `json:"agent_home"`
	ServiceRunning bool           `json:"service_running"`
	GatewayURL     string         `json:"gateway_url"`
	GatewayUp      bool           `json:"gateway_up"`
	Activity       []ActivityInfo `json:"activity,omitempty"`
}

// NewStatusCmd creates the status command.
func NewStatusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pairing, service, and recent daemon activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of recent activity entries to show")

	return cmd
}

func runStatus(ctx context.Context, limit int) error {
	app := GetAppContext()
	formatter := GetFormatter()

	info := StatusInfo{
		Version:        Version,
		AgentInstalled: app.Paths.AgentInstalled(),
		AgentHome:      app.Paths.AgentHome,
		ServiceRunning: service.Running(),
	}

	if creds, err := identity.LoadCredentials(app.Paths.CredentialsFile); err == nil {
		info.Paired = true
		info.Email = creds.Email
		info.DeviceID = creds.DeviceID
		info.DeviceName = creds.DeviceName
	}

	url, token := localstate.NewStore(app.Paths).GatewayEndpoint(app.Config.Gateway.Port)
	info.GatewayURL = url
	info.GatewayUp = gateway.NewClient(gateway.Config{BaseURL: url, Token: token}).Ping(ctx)

	info.Activity = recentActivity(ctx, app.Paths.JournalFile, limit)

	if formatter.Format() == output.FormatJSON {
		return formatter.JSON(info)
	}
	printStatusText(formatter, info)
	return nil
}

// recentActivity reads the journal, returning nil when it is absent or
// unreadable.
func recentActivity(ctx context.Context, journalFile string, limit int) []ActivityInfo {
	journal, err := storage.NewActivityRepository(journalFile)
	if err != nil {
		return nil
	}
	defer journal.Close()

	records, err := journal.Recent(ctx, limit)
	if err != nil {
		return nil
	}
	entries := make([]ActivityInfo, 0, len(records))
	for _, rec := range records {
		entries = append(entries, ActivityInfo{
			Kind:        string(rec.Kind),
			Ref:         rec.Ref,
			Status:      rec.Status,
			Detail:      rec.Detail,
			CompletedAt: rec.CompletedAt.UTC().Format(time.RFC3339),
		})
	}
	return entries
}

func printStatusText(formatter *output.Formatter, info StatusInfo) {
	formatter.Println("%s", formatter.Bold("Petsync"))
	formatter.Println("  %s %s", formatter.Dim("Version:"), info.Version)

	if info.Paired {
		formatter.Println("  %s %s (%s)", formatter.Dim("Paired:"), info.Email, info.DeviceID)
	} else {
		formatter.Println("  %s no — run \"petsync login\"", formatter.Dim("Paired:"))
	}

	agent := "not found"
	if info.AgentInstalled {
		agent = "installed"
	}
	formatter.Println("  %s %s (%s)", formatter.Dim("Agent:"), agent, info.AgentHome)

	svc := "stopped"
	if info.ServiceRunning {
		svc = "running"
	}
	formatter.Println("  %s %s", formatter.Dim("Service:"), svc)

	gw := "unreachable"
	if info.GatewayUp {
		gw = "up"
	}
	formatter.Println("  %s %s (%s)", formatter.Dim("Gateway:"), gw, info.GatewayURL)

	if len(info.Activity) == 0 {
		return
	}
	formatter.Println("")
	formatter.Println("%s", formatter.Bold("Recent activity"))
	for _, entry := range info.Activity {
		status := entry.Status
		if status != "ok" {
			status = formatter.Bold(status)
		}
		line := entry.Kind
		if entry.Ref != "" {
			line += " " + entry.Ref
		}
		formatter.Println("  %s  %-24s %s", entry.CompletedAt, line, status)
	}
}
