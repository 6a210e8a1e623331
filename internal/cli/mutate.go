package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"localcal/internal/calendar"
	"localcal/internal/config"
	"localcal/internal/model"
)

// eventFlags are the event fields shared by create and update.
type eventFlags struct {
	summary     string
	description string
	location    string
	start       string
	end         string
	rrule       string
	zone        string
}

func (f *eventFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.summary, "summary", "", "event title")
	fs.StringVar(&f.description, "description", "", "event description")
	fs.StringVar(&f.location, "location", "", "event location")
	fs.StringVar(&f.start, "start", "", "start: date, RFC 3339 instant or naive date-time")
	fs.StringVar(&f.end, "end", "", "end, same forms as --start (exclusive)")
	fs.StringVar(&f.rrule, "rrule", "", `recurrence rule, e.g. "FREQ=WEEKLY;BYDAY=MO"`)
	fs.StringVar(&f.zone, "tzid", "", "IANA zone for naive date-times (floating if unset)")
}

// patch builds a calendar patch from the flags the user actually set.
func (f *eventFlags) patch(fs *pflag.FlagSet) (calendar.EventPatch, error) {
	var p calendar.EventPatch

	var zone *time.Location
	if f.zone != "" {
		l, err := time.LoadLocation(f.zone)
		if err != nil {
			return p, fmt.Errorf("--tzid %q: %w", f.zone, err)
		}
		zone = l
	}

	if fs.Changed("summary") {
		p.Summary = &f.summary
	}
	if fs.Changed("description") {
		p.Description = &f.description
	}
	if fs.Changed("location") {
		p.Location = &f.location
	}
	if fs.Changed("rrule") {
		p.RRule = &f.rrule
	}
	if fs.Changed("start") {
		t, err := model.ParseEventTime(f.start, zone)
		if err != nil {
			return p, fmt.Errorf("--start: %w", err)
		}
		p.Start = &t
	}
	if fs.Changed("end") {
		t, err := model.ParseEventTime(f.end, zone)
		if err != nil {
			return p, fmt.Errorf("--end: %w", err)
		}
		p.End = &t
	}
	return p, nil
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var flags eventFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an event",
		Example: `  localcal create --summary "Standup" --start 2022-08-22T08:30 --end 2022-08-22T09:00 --rrule "FREQ=DAILY;COUNT=10"
  localcal create --summary "Holiday" --start 2022-08-23 --end 2022-08-24`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := flags.patch(cmd.Flags())
			if err != nil {
				return err
			}
			if p.Start == nil || p.End == nil {
				return errors.New("--start and --end are required")
			}
			in := calendar.EventInput{
				Summary:     flags.summary,
				Description: flags.description,
				Location:    flags.location,
				Start:       *p.Start,
				End:         *p.End,
				RRule:       flags.rrule,
			}
			return withCalendar(cmd, rootOpts, func(ctx context.Context, _ *config.Config, cal *calendar.LocalCalendar) error {
				uid, err := cal.Create(ctx, in)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), uid)
				return nil
			})
		},
	}

	flags.register(cmd.Flags())
	_ = cmd.MarkFlagRequired("summary")
	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var flags eventFlags
	var recurrenceID string
	var future bool

	cmd := &cobra.Command{
		Use:   "update <uid>",
		Short: "Update a series, one occurrence, or an occurrence and all later ones",
		Long: `Update changes only the fields given as flags.

Without --recurrence-id the whole series is edited. With it, only that
occurrence is overridden, or, with --future, that occurrence and every
later one move to a new series whose UID is printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := flags.patch(cmd.Flags())
			if err != nil {
				return err
			}
			if future && recurrenceID == "" {
				return errors.New("--future needs --recurrence-id")
			}
			uid := args[0]
			return withCalendar(cmd, rootOpts, func(ctx context.Context, _ *config.Config, cal *calendar.LocalCalendar) error {
				result := uid
				var err error
				switch {
				case recurrenceID == "":
					err = cal.Update(ctx, uid, p)
				case future:
					result, err = cal.UpdateFuture(ctx, uid, recurrenceID, p)
				default:
					err = cal.UpdateInstance(ctx, uid, recurrenceID, p)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}

	flags.register(cmd.Flags())
	cmd.Flags().StringVar(&recurrenceID, "recurrence-id", "", "start key of the occurrence to edit")
	cmd.Flags().BoolVar(&future, "future", false, "also edit every later occurrence")
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	var recurrenceID string
	var future bool

	cmd := &cobra.Command{
		Use:   "delete <uid>",
		Short: "Delete a series, one occurrence, or an occurrence and all later ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if future && recurrenceID == "" {
				return errors.New("--future needs --recurrence-id")
			}
			uid := args[0]
			return withCalendar(cmd, rootOpts, func(ctx context.Context, _ *config.Config, cal *calendar.LocalCalendar) error {
				switch {
				case recurrenceID == "":
					return cal.DeleteSeries(ctx, uid)
				case future:
					return cal.DeleteFuture(ctx, uid, recurrenceID)
				default:
					return cal.DeleteInstance(ctx, uid, recurrenceID)
				}
			})
		},
	}

	cmd.Flags().StringVar(&recurrenceID, "recurrence-id", "", "start key of the occurrence to delete")
	cmd.Flags().BoolVar(&future, "future", false, "also delete every later occurrence")
	return cmd
}
