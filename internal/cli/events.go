package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"localcal/internal/calendar"
	"localcal/internal/config"
	"localcal/internal/model"
)

// occurrenceJSON is the --format json view of an occurrence.
type occurrenceJSON struct {
	UID          string    `json:"uid"`
	RecurrenceID string    `json:"recurrence_id,omitempty"`
	RRule        string    `json:"rrule,omitempty"`
	Kind         string    `json:"kind"`
	Summary      string    `json:"summary"`
	Description  string    `json:"description,omitempty"`
	Location     string    `json:"location,omitempty"`
	AllDay       bool      `json:"all_day"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	var start, end string
	var days int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List occurrences in a window",
		Long: `List the occurrences overlapping [start, end). Bounds are dates,
RFC 3339 instants or naive date-times in the calendar timezone. Without
bounds the window runs from now for --days days.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCalendar(cmd, rootOpts, func(_ context.Context, _ *config.Config, cal *calendar.LocalCalendar) error {
				loc := cal.Location()
				from, to := time.Now().In(loc), time.Time{}
				var err error
				if start != "" {
					if from, err = model.ParseBound(start, loc); err != nil {
						return fmt.Errorf("--start: %w", err)
					}
				}
				if end != "" {
					if to, err = model.ParseBound(end, loc); err != nil {
						return fmt.Errorf("--end: %w", err)
					}
				} else {
					to = from.AddDate(0, 0, days)
				}

				occ, err := cal.Query(from, to, loc)
				var incomplete *calendar.IncompleteError
				if err != nil && !errors.As(err, &incomplete) {
					return err
				}
				if perr := printOccurrences(cmd.OutOrStdout(), rootOpts.Format, occ); perr != nil {
					return perr
				}
				// The partial listing is printed, the command still fails.
				return err
			})
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "window start (default now)")
	cmd.Flags().StringVar(&end, "end", "", "window end (default start + --days)")
	cmd.Flags().IntVar(&days, "days", 7, "window length when --end is not set")
	return cmd
}

func printOccurrences(w io.Writer, format string, occ []model.Occurrence) error {
	if format == "json" {
		out := make([]occurrenceJSON, 0, len(occ))
		for _, o := range occ {
			out = append(out, occurrenceJSON{
				UID:          o.UID,
				RecurrenceID: o.RecurrenceID,
				RRule:        o.RRule,
				Kind:         o.Kind.String(),
				Summary:      o.Summary,
				Description:  o.Description,
				Location:     o.Location,
				AllDay:       o.AllDay,
				Start:        o.Start,
				End:          o.End,
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(occ) == 0 {
		fmt.Fprintln(w, "no events")
		return nil
	}
	for _, o := range occ {
		when := o.Start.Format("2006-01-02 15:04") + " - " + o.End.Format("15:04")
		if o.AllDay {
			when = o.Start.Format(time.DateOnly) + " (all day)"
		}
		ref := o.UID
		if o.RecurrenceID != "" {
			ref += " " + o.RecurrenceID
		}
		fmt.Fprintf(w, "%-24s  %s  [%s]\n", when, o.Summary, ref)
	}
	return nil
}
