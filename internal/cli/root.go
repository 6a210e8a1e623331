// Package cli wires the localcal commands.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"localcal/internal/calendar"
	"localcal/internal/config"
	appLog "localcal/internal/log"
	"localcal/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	Timezone   string
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the localcal CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "localcal",
		Short: "A local calendar kept in one ICS document",
		Long: `localcal keeps a calendar in a single iCalendar document on disk or in
SQLite. It expands recurring events, edits single occurrences or whole
series, and serves the calendar over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true, // main logs the error
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", config.DefaultPath, "path to config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (overrides config if set)")
	cmd.PersistentFlags().StringVar(&opts.Timezone, "timezone", "", "calendar timezone (overrides config if set)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewHashPasswordCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// loadConfig loads the config file and applies flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Timezone != "" {
		if _, err := time.LoadLocation(opts.Timezone); err != nil {
			return nil, fmt.Errorf("timezone %q: %w", opts.Timezone, err)
		}
		cfg.Timezone = opts.Timezone
	}
	if opts.LogLevel != "" {
		if !appLog.ValidLevel(opts.LogLevel) {
			return nil, fmt.Errorf("log level %q: want debug, info, warn or error", opts.LogLevel)
		}
		cfg.LogLevel = opts.LogLevel
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// openCalendar opens the configured store and loads the calendar from it.
// The returned close function is always non-nil.
func openCalendar(ctx context.Context, cfg *config.Config) (*calendar.LocalCalendar, func() error, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, func() error { return nil }, err
	}
	st, closeStore, err := store.Open(cfg.Storage.Backend, cfg.Storage.Path, cfg.CalendarName)
	if err != nil {
		return nil, closeStore, err
	}
	cal, err := calendar.Open(ctx, calendar.Options{Store: st, Location: loc})
	if err != nil {
		_ = closeStore()
		return nil, func() error { return nil }, err
	}
	return cal, closeStore, nil
}

// withCalendar runs fn against the configured calendar.
func withCalendar(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, cfg *config.Config, cal *calendar.LocalCalendar) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cal, closeStore, err := openCalendar(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			appLog.Error("failed to close store", err)
		}
	}()
	return fn(ctx, cfg, cal)
}
