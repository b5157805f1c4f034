package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/inboxd/pkg/protocol"
)

func statsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache and processor counters of the running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newGatewayClient()
			if err != nil {
				return err
			}
			var snap protocol.StatsSnapshot
			if err := c.do(cmd.Context(), "GET", protocol.RouteStats, nil, &snap); err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			printStats(snap)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	cmd.Flags().StringVar(&gatewayURL, "gateway", "", "gateway base URL (default: from config)")
	return cmd
}

func printStats(s protocol.StatsSnapshot) {
	fmt.Printf("inboxd %s (protocol %d)\n\n", s.Version, s.Protocol)

	p := s.Processor
	fmt.Println("Processor:")
	fmt.Printf("  %-22s %d\n", "submitted", p.Submitted)
	fmt.Printf("  %-22s %d\n", "processed", p.Processed)
	fmt.Printf("  %-22s %d\n", "duplicates", p.Duplicates)
	fmt.Printf("  %-22s %d\n", "errors", p.Errors)
	fmt.Printf("  %-22s %d\n", "processing", p.Processing)
	fmt.Printf("  %-22s %d\n", "active conversations", p.ActiveConversations)
	fmt.Printf("  %-22s %d recorded, %d notified (%d/%d failed)\n", "error reports",
		p.Reporter.Recorded, p.Reporter.Notified, p.Reporter.RecordFailures, p.Reporter.NotifyFailures)

	c := s.Cache
	fmt.Println("\nConfig cache:")
	fmt.Printf("  %-22s %d\n", "hits", c.Hits)
	fmt.Printf("  %-22s %d\n", "misses", c.Misses)
	fmt.Printf("  %-22s %d\n", "load errors", c.Errors)
	fmt.Printf("  %-22s %d\n", "live keys", c.LiveKeyCount)

	if len(s.Channels) > 0 {
		names := make([]string, 0, len(s.Channels))
		for name := range s.Channels {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Println("\nChannels:")
		for _, name := range names {
			state := "stopped"
			if s.Channels[name].Running {
				state = "running"
			}
			fmt.Printf("  %-22s %s\n", name, state)
		}
	}
}
