// Companion - an animated chat companion served to browser clients
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/normanking/cortexcompanion/internal/config"
	"github.com/normanking/cortexcompanion/internal/logging"
	"github.com/normanking/cortexcompanion/internal/persona"
)

var (
	version  = "0.1.0"
	cfgPath  string
	logLevel string

	cfg    *config.Config
	syslog *logging.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "companion",
		Short: "Companion - an animated chat companion with moods, actions and a voice",
		Long: `Companion turns model replies into a living character: emotion tags drive
the avatar, action tags open destinations, and the reply is spoken aloud.

Serve the browser client:  companion serve
Chat in the terminal:      companion chat
Write a starter config:    companion config init`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.cortexcompanion/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Companion v%s\n", version)
		},
	})
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(charactersCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initRuntime loads the environment file, configuration and logger
func initRuntime(console bool) error {
	loadEnvFile()

	var err error
	cfg, err = config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	lc := cfg.LoggingConfig()
	lc.Console = lc.Console && console
	syslog, err = logging.New(lc)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	logger := syslog.Component("main")
	logger.Info().
		Str("version", version).
		Str("config", cfg.File()).
		Str("backend", cfg.Backend.Provider).
		Str("speech", cfg.Speech.Provider).
		Msg("companion starting")
	return nil
}

func charactersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "characters",
		Short: "List the available characters",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			catalog, err := persona.LoadFromFile(c.Companion.PersonaFile)
			if err != nil {
				return err
			}

			active := c.Companion.DefaultCharacter
			if active == "" {
				active = catalog.Default
			}
			for _, ch := range catalog.List() {
				marker := " "
				if ch.ID == active {
					marker = "*"
				}
				fmt.Printf("%s %-8s %-8s voice=%-8s theme=%s\n", marker, ch.ID, ch.Name, ch.VoiceID, ch.Theme)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgPath
			if path == "" {
				dir, err := config.Dir()
				if err != nil {
					return err
				}
				path = filepath.Join(dir, "config.yaml")
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(config.DefaultConfig(), path); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			source := c.File()
			if source == "" {
				source = "(defaults)"
			}
			fmt.Printf("Config:     %s\n", source)
			fmt.Printf("Server:     %s\n", c.Server.Addr)
			fmt.Printf("Backend:    %s (%s)\n", c.Backend.Provider, c.Backend.Model)
			fmt.Printf("Speech:     %s (%s)\n", c.Speech.Provider, c.Speech.Model)
			fmt.Printf("Character:  %s, policy %s\n", c.Companion.DefaultCharacter, c.Companion.SwitchPolicy)
			fmt.Printf("Navigator:  %s\n", c.Actions.Navigator)
			for _, d := range c.Actions.Destinations {
				fmt.Printf("  %-10s %s\n", d.Keyword, d.URL)
			}
			return nil
		},
	})

	return cmd
}
