package main

import (
	"context"
	"fmt"

	"fragstore/pkg/admin"
	"fragstore/pkg/shared"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Style definitions
var (
	accentColor  = lipgloss.Color("#50FA7B") // Green
	warningColor = lipgloss.Color("#FFB86C") // Orange
	dangerColor  = lipgloss.Color("#FF5555") // Red
	mutedColor   = lipgloss.Color("#6272A4")
	bgLightColor = lipgloss.Color("#44475A")
	fgColor      = lipgloss.Color("#F8F8F2")
	headerColor  = lipgloss.Color("#8BE9FD") // Cyan

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	valueStyle = lipgloss.NewStyle().
			Foreground(fgColor).
			Bold(true)

	accentValueStyle = lipgloss.NewStyle().
				Foreground(accentColor).
				Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(headerColor).
			Background(bgLightColor).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(fgColor)
)

func statusCmd(flags *clientFlags) *cobra.Command {
	var healthAddr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show coordinator and node health",
		Long:  `Query the coordinator's gRPC health service and show one row per service.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(zap.NewNop(), nil)
			if err != nil {
				return err
			}

			conn, err := shared.ConnectToHealth(healthAddr)
			if err != nil {
				return fmt.Errorf("failed to connect to health service at %s: %w", healthAddr, err)
			}
			defer conn.Close()

			healthClient := healthpb.NewHealthClient(conn)
			ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultGRPCTimeout)
			defer cancel()

			t := table.New().
				Border(lipgloss.NormalBorder()).
				BorderStyle(lipgloss.NewStyle().Foreground(bgLightColor)).
				StyleFunc(func(row, col int) lipgloss.Style {
					if row == table.HeaderRow {
						return headerStyle
					}
					return rowStyle
				}).
				Headers("SERVICE", "ADDRESS", "STATUS")

			t.Row("coordinator", cfg.Coordinator.Address(), checkService(ctx, healthClient, admin.CoordinatorService))
			for i, endpoint := range cfg.Nodes {
				t.Row(fmt.Sprintf("node %d", i), endpoint.Address(), checkService(ctx, healthClient, admin.NodeService(i)))
			}

			fmt.Println(t.Render())
			return nil
		},
	}

	cmd.Flags().StringVar(&healthAddr, "health", "127.0.0.1:9090", "coordinator gRPC health address")
	return cmd
}

func checkService(ctx context.Context, client healthpb.HealthClient, service string) string {
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return lipgloss.NewStyle().Foreground(dangerColor).Render("🔴 ERROR")
	}

	switch resp.Status {
	case healthpb.HealthCheckResponse_SERVING:
		return lipgloss.NewStyle().Foreground(accentColor).Render("🟢 SERVING")
	case healthpb.HealthCheckResponse_NOT_SERVING:
		return lipgloss.NewStyle().Foreground(dangerColor).Render("🔴 NOT SERVING")
	default:
		return lipgloss.NewStyle().Foreground(warningColor).Render("🟡 UNKNOWN")
	}
}
