package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/conductor/internal/config"
	"github.com/zjrosen/conductor/internal/log"
)

func init() {
	// Query the terminal background before any Bubble Tea program starts so
	// the OSC 11 response cannot race the monitor's input loop.
	_ = lipgloss.HasDarkBackground()
}

// localConfigPath is checked before the user config directory.
const localConfigPath = ".conductor/config.yaml"

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
	cfgErr    error
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Drive several editor agents from one task board",
	Long: `conductor hands tasks from a shared board to a pool of AI editor windows.
Each worker claims a task, types its prompt into the agent's editor, waits for
the response and copies it back through the clipboard.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .conductor/config.yaml, then ~/.config/conductor/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (also CONDUCTOR_DEBUG=1)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .conductor/config.yaml (current directory)
		// 2. ~/.config/conductor/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else {
			if dir := config.DefaultConfigDir(); dir != "" {
				viper.AddConfigPath(dir)
			}
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}
	viper.SetEnvPrefix("conductor")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			cfgErr = fmt.Errorf("reading config: %w", err)
			return
		}
		// No config file anywhere: write the default next to the user's other config.
		if dir := config.DefaultConfigDir(); dir != "" {
			defaultPath := filepath.Join(dir, "config.yaml")
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
		}
	}

	cfg, cfgErr = config.Load(viper.GetViper())
}

func setupLogging(_ *cobra.Command, _ []string) error {
	if !debugFlag && os.Getenv("CONDUCTOR_DEBUG") == "" {
		return nil
	}
	logPath := os.Getenv("CONDUCTOR_LOG")
	if logPath == "" {
		logPath = "debug.log"
	}
	// The monitor owns the terminal, so Bubble Tea's own logging joins ours.
	initLog := log.Init
	if runTUI {
		initLog = func(path string) (func(), error) { return log.InitWithTeaLog(path, "conductor") }
	}
	if _, err := initLog(logPath); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	log.Info(log.CatConfig, "conductor starting", "version", version, "config", viper.ConfigFileUsed())
	return nil
}

// loadedConfig returns the validated configuration.
func loadedConfig() (config.Config, error) {
	if cfgErr != nil {
		return config.Config{}, cfgErr
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// configPath is where config edits are written.
func configPath() string {
	if p := viper.ConfigFileUsed(); p != "" {
		return p
	}
	return localConfigPath
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
