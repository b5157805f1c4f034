package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/inboxd/internal/store"
	"github.com/nextlevelbuilder/inboxd/pkg/protocol"
)

func channelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Manage tenant channel configs on the running gateway",
	}
	cmd.PersistentFlags().StringVar(&gatewayURL, "gateway", "", "gateway base URL (default: from config)")
	cmd.AddCommand(channelsListCmd())
	cmd.AddCommand(channelsSetCmd())
	return cmd
}

func channelsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenant channel configs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newGatewayClient()
			if err != nil {
				return err
			}
			var resp struct {
				ChannelConfigs []store.ChannelConfig `json:"channel_configs"`
			}
			if err := c.do(cmd.Context(), "GET", protocol.RouteChannelConfigs, nil, &resp); err != nil {
				return err
			}
			if len(resp.ChannelConfigs) == 0 {
				fmt.Println("No channel configs.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTENANT\tTYPE\tENABLED\tALLOW FROM\tNAME")
			for _, cc := range resp.ChannelConfigs {
				allow := "*"
				if len(cc.AllowFrom) > 0 {
					allow = strings.Join(cc.AllowFrom, ",")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\t%s\n",
					cc.ID, cc.TenantID, cc.ChannelType, cc.Enabled, allow, cc.DisplayName)
			}
			return tw.Flush()
		},
	}
}

func channelsSetCmd() *cobra.Command {
	var (
		tenantID     string
		channelType  string
		displayName  string
		systemPrompt string
		allowFrom    []string
		enabled      bool
	)
	cmd := &cobra.Command{
		Use:   "set <tenant-channel-id>",
		Short: "Create or update a tenant channel config",
		Long: "Create or update a tenant channel config. Unset flags keep their stored value. " +
			"The gateway invalidates its config cache so the change applies to the next message.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newGatewayClient()
			if err != nil {
				return err
			}
			path := strings.Replace(protocol.RouteChannelConfig, "{id}", args[0], 1)

			cfg := store.ChannelConfig{ID: args[0], Enabled: true}
			if err := c.do(cmd.Context(), "GET", path, nil, &cfg); err != nil && !strings.Contains(err.Error(), " 404 ") {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("tenant") {
				cfg.TenantID = tenantID
			}
			if flags.Changed("type") {
				cfg.ChannelType = channelType
			}
			if flags.Changed("name") {
				cfg.DisplayName = displayName
			}
			if flags.Changed("system-prompt") {
				cfg.SystemPrompt = systemPrompt
			}
			if flags.Changed("allow-from") {
				cfg.AllowFrom = allowFrom
			}
			if flags.Changed("enabled") {
				cfg.Enabled = enabled
			}

			var saved store.ChannelConfig
			if err := c.do(cmd.Context(), "PUT", path, cfg, &saved); err != nil {
				return err
			}
			fmt.Printf("Channel config %s saved (tenant %s, %s, enabled=%v).\n",
				saved.ID, saved.TenantID, saved.ChannelType, saved.Enabled)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "owning tenant id")
	cmd.Flags().StringVar(&channelType, "type", "", "channel type: whatsapp, telegram, discord, webhook")
	cmd.Flags().StringVar(&displayName, "name", "", "display name")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "system prompt for LLM replies")
	cmd.Flags().StringSliceVar(&allowFrom, "allow-from", nil, "allowed senders (empty = everyone)")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "whether replies are sent")
	return cmd
}
