package operations

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/opwatch/opwatch/pkg/client"
	"github.com/spf13/cobra"
)

func NewCmd() *cobra.Command {
	var (
		c        = client.New()
		server   string
		username string
		password string
		token    string
	)

	cmd := &cobra.Command{
		Use:     "operations",
		Aliases: []string{"operation", "ops"},
		Short:   "Inspect in flight operations",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.SetBasicAuth(username, password)
			c.SetBearerToken(token)

			return c.Setup(server)
		},
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	// Add subcommands
	cmd.AddCommand(ListOperationsCmd(c))
	cmd.AddCommand(GetOperationCmd(c))

	// Flags
	cmd.PersistentFlags().StringVarP(&server, "server", "", "http://localhost:8001", "opwatch url")
	cmd.PersistentFlags().StringVarP(&username, "username", "U", "", "basic auth username")
	cmd.PersistentFlags().StringVarP(&password, "password", "P", "", "basic auth password")
	cmd.PersistentFlags().StringVarP(&token, "token", "T", "", "bearer token")

	return cmd
}

var listOperationsExample = `
# List all in flight operations
opwatch operations list

# List in flight operations by name
opwatch operations list --name syncAllConversations`

func ListOperationsCmd(c *client.Client) *cobra.Command {
	var (
		name   string
		output string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List in flight operations",
		Example: listOperationsExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.ListOperations(cmd.Context(), name)
			if err != nil {
				return err
			}

			if output == "json" {
				return printJSON(cmd, res)
			}

			if res.Count == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No operations in flight")
				return nil
			}

			return prettyPrintOperations(cmd, time.Now(), res.Operations...)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "only list operations with this name")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output format, can be one of: json")

	return cmd
}

func GetOperationCmd(c *client.Client) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get an in flight operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := c.ReadOperation(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if output == "json" {
				return printJSON(cmd, op)
			}

			return prettyPrintOperations(cmd, time.Now(), op)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output format, can be one of: json")

	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}

func prettyPrintOperations(cmd *cobra.Command, now time.Time, operations ...*client.Operation) error {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.Header("Id", "Name", "Started", "Age")

	for _, op := range operations {
		start := time.UnixMilli(op.StartTime)
		if err := table.Append(
			op.Id,
			op.Name,
			start.UTC().Format(time.RFC3339),
			now.Sub(start).Truncate(time.Millisecond).String(),
		); err != nil {
			return err
		}
	}

	return table.Render()
}
