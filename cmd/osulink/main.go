package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stellarlinkco/osulink/internal/card"
	"github.com/stellarlinkco/osulink/internal/config"
	"github.com/stellarlinkco/osulink/internal/gateway"
	"github.com/stellarlinkco/osulink/internal/linkstore"
	"github.com/stellarlinkco/osulink/internal/logging"
	"github.com/stellarlinkco/osulink/internal/osu"
)

var rootCmd = &cobra.Command{
	Use:               "osulink",
	Short:             "osulink - link Discord users to osu! profiles",
	PersistentPreRunE: loadDotEnv,
	SilenceUsage:      true,
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the Discord bot until interrupted",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Write a default config file",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show osulink status",
	RunE:  runStatus,
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <username>",
	Short: "Fetch one osu! profile with the configured credentials",
	Args:  cobra.ExactArgs(1),
	RunE:  runLookup,
}

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "List stored Discord to osu! links",
	RunE:  runLinks,
}

func init() {
	rootCmd.AddCommand(gatewayCmd, onboardCmd, statusCmd, lookupCmd, linksCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads ./.env into the environment. A missing file is fine;
// variables already set win.
func loadDotEnv(_ *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config (run 'osulink onboard' or set the environment):\n%w", err)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(commandContext(cmd))
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dataDir := filepath.Dir(cfg.Store.Path)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	fmt.Fprintf(out, "Data dir ready: %s\n", dataDir)

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set discord.token, osu.clientId and osu.clientSecret\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set TOKEN, OSU_CLIENT_ID and OSU_CLIENT_SECRET (a .env file works too)")
	fmt.Fprintln(out, "  3. Run 'osulink lookup <username>' to check the osu! credentials")
	fmt.Fprintln(out, "  4. Run 'osulink gateway' to start the bot")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Discord token: %s\n", mask(cfg.Discord.Token))
	if cfg.Discord.GuildID != "" {
		fmt.Fprintf(out, "Commands: guild %s\n", cfg.Discord.GuildID)
	} else {
		fmt.Fprintln(out, "Commands: global")
	}
	fmt.Fprintf(out, "osu! client id: %s\n", orNotSet(cfg.Osu.ClientID))
	fmt.Fprintf(out, "osu! client secret: %s\n", mask(cfg.Osu.ClientSecret))
	fmt.Fprintf(out, "osu! mode: %s\n", cfg.Osu.Mode)
	fmt.Fprintf(out, "Gateway: enabled=%v addr=%s\n", cfg.Gateway.Enabled, cfg.Gateway.Addr())
	fmt.Fprintf(out, "Presence: enabled=%v schedule=%q\n", cfg.Presence.Enabled, cfg.Presence.Schedule)

	store, err := linkstore.Open(cfg.Store.Path, nil)
	if err != nil {
		fmt.Fprintf(out, "Links: error (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "Links: %d (%s)\n", store.Len(), store.Path())

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Problems:\n%v\n", err)
	}
	return nil
}

// runLookup does one token exchange and one profile fetch, the same path
// /profile takes.
func runLookup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Osu.ClientID == "" || cfg.Osu.ClientSecret == "" {
		return errors.New("osu client id and secret not set (OSU_CLIENT_ID / OSU_CLIENT_SECRET)")
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	client := osu.New(cfg.Osu, osu.Options{Logger: logger.Named("osu")})
	profile, err := client.Profile(commandContext(cmd), args[0])
	if errors.Is(err, osu.ErrProfileNotFound) {
		return fmt.Errorf("no osu! user %q", args[0])
	}
	if err != nil {
		logger.Debug("lookup failed", zap.Error(err))
		return err
	}

	embed := card.Profile(profile)
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, embed.Title)
	for _, f := range embed.Fields {
		fmt.Fprintf(out, "  %-10s %s\n", f.Name, f.Value)
	}
	fmt.Fprintf(out, "  %-10s %s\n", "avatar", embed.Thumbnail.URL)
	return nil
}

func runLinks(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := linkstore.Open(cfg.Store.Path, nil)
	if err != nil {
		return err
	}

	links := store.All()
	ids := make([]string, 0, len(links))
	for id := range links {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintln(out, "no links yet")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintf(out, "%s\t%s\n", id, links[id])
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func mask(secret string) string {
	switch {
	case secret == "":
		return "not set"
	case len(secret) > 8:
		return secret[:4] + "..." + secret[len(secret)-4:]
	default:
		return "set"
	}
}

func orNotSet(s string) string {
	if s == "" {
		return "not set"
	}
	return s
}
