package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/inboxd/internal/config"
	"github.com/nextlevelbuilder/inboxd/internal/store/sqlite"
	"github.com/nextlevelbuilder/inboxd/internal/upgrade"
	"github.com/nextlevelbuilder/inboxd/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, storage and channel health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("inboxd doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Config invalid: %s\n", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fmt.Println()
	fmt.Println("  Storage:")
	if cfg.IsManagedMode() {
		checkPostgres(ctx, cfg.Database.PostgresDSN)
	} else {
		if cfg.Database.Mode == "managed" {
			fmt.Printf("    %-12s managed requested but INBOXD_POSTGRES_DSN is empty\n", "Warning:")
		}
		checkSQLite(ctx, cfg.SQLitePath())
	}

	fmt.Println()
	fmt.Println("  Gateway:")
	fmt.Printf("    %-12s %s:%d\n", "Listen:", cfg.Gateway.Host, cfg.Gateway.Port)
	if cfg.Gateway.Token != "" {
		fmt.Printf("    %-12s %s\n", "Token:", maskSecret(cfg.Gateway.Token))
	} else {
		fmt.Printf("    %-12s (none, API is open)\n", "Token:")
	}

	fmt.Println()
	fmt.Println("  Provider:")
	if cfg.Provider.Enabled() {
		fmt.Printf("    %-12s %s (%s)\n", "LLM:", cfg.Provider.Name, cfg.Provider.Model)
		if cfg.Provider.APIKey != "" {
			fmt.Printf("    %-12s %s\n", "API key:", maskSecret(cfg.Provider.APIKey))
		}
	} else {
		fmt.Printf("    %-12s (not configured, fallback replies only)\n", "LLM:")
	}

	fmt.Println()
	fmt.Println("  Channels:")
	found := false
	for _, c := range cfg.Channels.WhatsApp {
		found = true
		checkChannel("whatsapp/"+c.Name, c.Enabled, c.BridgeURL != "")
	}
	for _, c := range cfg.Channels.Telegram {
		found = true
		checkChannel("telegram/"+c.Name, c.Enabled, c.Token != "")
	}
	for _, c := range cfg.Channels.Discord {
		found = true
		checkChannel("discord/"+c.Name, c.Enabled, c.Token != "")
	}
	for _, c := range cfg.Channels.Webhook {
		found = true
		checkChannel("webhook/"+c.Name, c.Enabled, true)
	}
	if !found {
		fmt.Println("    (none configured)")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkPostgres(ctx context.Context, dsn string) {
	fmt.Printf("    %-12s managed (postgres)\n", "Mode:")
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s connected\n", "Status:")

	s, err := upgrade.CheckSchema(ctx, db)
	if err != nil {
		fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
		return
	}
	fmt.Printf("    %-12s %s\n", "Schema:", describeSchema(s))
}

func checkSQLite(ctx context.Context, path string) {
	fmt.Printf("    %-12s standalone (sqlite)\n", "Mode:")
	fmt.Printf("    %-12s %s\n", "File:", path)
	db, err := sqlite.OpenDB(path)
	if err != nil {
		fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		fmt.Printf("    %-12s PING FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s OK\n", "Status:")
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-24s %s\n", name+":", status)
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
