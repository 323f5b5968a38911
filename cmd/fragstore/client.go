package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"fragstore/pkg/client"
	"fragstore/pkg/utils"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type clientFlags struct {
	coordinator string
	timeout     time.Duration
}

func clientCmd() *cobra.Command {
	flags := &clientFlags{}

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Talk to a running coordinator",
	}

	cmd.PersistentFlags().StringVar(&flags.coordinator, "coordinator", "", "coordinator address (default from the endpoint file)")
	cmd.PersistentFlags().DurationVar(&flags.timeout, "timeout", 0, "request timeout (0 waits indefinitely)")

	cmd.AddCommand(
		storeCmd(flags),
		retrieveCmd(flags),
		listCmd(flags),
		deleteCmd(flags),
		statusCmd(flags),
	)
	return cmd
}

// newClient builds a client for the coordinator named by --coordinator or,
// failing that, by the endpoint file.
func newClient(flags *clientFlags) (*client.Client, error) {
	address := flags.coordinator
	chunkSize := 0
	if address == "" {
		cfg, err := loadConfig(zap.NewNop(), nil)
		if err != nil {
			return nil, err
		}
		address = cfg.Coordinator.Address()
		chunkSize = cfg.ChunkSize
	}
	return client.New(address, client.WithTimeout(flags.timeout), client.WithChunkSize(chunkSize)), nil
}

func requestContext(flags *clientFlags) (context.Context, context.CancelFunc) {
	if flags.timeout > 0 {
		return context.WithTimeout(context.Background(), flags.timeout)
	}
	return context.WithCancel(context.Background())
}

func storeCmd(flags *clientFlags) *cobra.Command {
	var path, name string

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Store a local file",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(flags)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(flags)
			defer cancel()

			if name == "" {
				name = filepath.Base(path)
			}
			size, err := c.StoreFile(ctx, path, name)
			if err != nil {
				return fmt.Errorf("failed to store %s: %w", path, err)
			}

			fmt.Printf("%s %s (%s)\n",
				accentValueStyle.Render("Stored"),
				valueStyle.Render(name),
				utils.FormatDataSize(size))
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "file", "f", "", "file to upload")
	cmd.Flags().StringVarP(&name, "name", "n", "", "name to store under (default: base name of --file)")
	cmd.MarkFlagRequired("file")
	return cmd
}

func retrieveCmd(flags *clientFlags) *cobra.Command {
	var name, output string

	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Download a stored file",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(flags)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(flags)
			defer cancel()

			if output == "" {
				output = defaultOutputPath(name)
			}
			size, err := c.RetrieveFile(ctx, name, output)
			if err != nil {
				return fmt.Errorf("failed to retrieve %s: %w", name, err)
			}

			fmt.Printf("%s %s to %s (%s)\n",
				accentValueStyle.Render("Retrieved"),
				valueStyle.Render(name),
				output,
				utils.FormatDataSize(size))
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "stored file name")
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination path (default: downloads/downloaded_<name>)")
	cmd.MarkFlagRequired("name")
	return cmd
}

// defaultOutputPath is where a retrieved file lands without --output.
func defaultOutputPath(name string) string {
	return filepath.Join("downloads", "downloaded_"+name)
}

func listCmd(flags *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the coordinator directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(flags)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(flags)
			defer cancel()

			names, err := c.List(ctx)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println(mutedStyle.Render("No files found."))
				return nil
			}

			t := table.New().
				Border(lipgloss.NormalBorder()).
				BorderStyle(lipgloss.NewStyle().Foreground(bgLightColor)).
				StyleFunc(func(row, col int) lipgloss.Style {
					if row == table.HeaderRow {
						return headerStyle
					}
					return rowStyle
				}).
				Headers("#", "NAME")

			for i, name := range names {
				t.Row(strconv.Itoa(i+1), name)
			}
			fmt.Println(t.Render())
			return nil
		},
	}
}

func deleteCmd(flags *clientFlags) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an entry from the coordinator directory",
		Long: `Delete an entry from the coordinator directory. Fragments held by the
storage nodes are not removed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(flags)
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(flags)
			defer cancel()

			if err := c.Delete(ctx, name); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", accentValueStyle.Render("Deleted"), valueStyle.Render(name))
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "entry to delete")
	cmd.MarkFlagRequired("name")
	return cmd
}
