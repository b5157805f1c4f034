package cmd

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/inboxd/internal/store"
	"github.com/nextlevelbuilder/inboxd/pkg/protocol"
)

func errorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Inspect recorded pipeline failures",
	}
	cmd.PersistentFlags().StringVar(&gatewayURL, "gateway", "", "gateway base URL (default: from config)")
	cmd.AddCommand(errorsListCmd())
	cmd.AddCommand(errorsShowCmd())
	return cmd
}

func errorsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent error records",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newGatewayClient()
			if err != nil {
				return err
			}
			var resp struct {
				Errors []store.ErrorRecord `json:"errors"`
			}
			path := protocol.RouteErrors + "?limit=" + strconv.Itoa(limit)
			if err := c.do(cmd.Context(), "GET", path, nil, &resp); err != nil {
				return err
			}
			if len(resp.Errors) == 0 {
				fmt.Println("No error records.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "EXTERNAL ID\tRETRIES\tUPDATED\tMESSAGE")
			for _, r := range resp.Errors {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n",
					r.ExternalID, r.RetryCount, r.UpdatedAt.Local().Format(time.DateTime), truncateLine(r.Message, 80))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum records to show")
	return cmd
}

func errorsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <external-id>",
		Short: "Show one error record with its error chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newGatewayClient()
			if err != nil {
				return err
			}
			var r store.ErrorRecord
			if err := c.do(cmd.Context(), "GET", protocol.RouteErrors+"/"+args[0], nil, &r); err != nil {
				return err
			}
			fmt.Printf("External ID: %s\n", r.ExternalID)
			fmt.Printf("Retries:     %d\n", r.RetryCount)
			fmt.Printf("First seen:  %s\n", r.CreatedAt.Local().Format(time.DateTime))
			fmt.Printf("Last seen:   %s\n", r.UpdatedAt.Local().Format(time.DateTime))
			fmt.Printf("Message:     %s\n", r.Message)
			if r.Detail != "" {
				fmt.Printf("\n%s\n", r.Detail)
			}
			return nil
		},
	}
}

func truncateLine(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
