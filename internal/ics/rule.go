package ics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// NormalizeRule strips an optional "RRULE:" prefix and surrounding space.
func NormalizeRule(rule string) string {
	rule = strings.TrimSpace(rule)
	if len(rule) >= 6 && strings.EqualFold(rule[:6], "RRULE:") {
		rule = strings.TrimSpace(rule[6:])
	}
	return rule
}

// ValidateRule reports whether rule is a well-formed RRULE value.
func ValidateRule(rule string) error {
	rule = NormalizeRule(rule)
	if rule == "" {
		return errors.New("empty recurrence rule")
	}
	parts := ruleParts(rule)
	if _, ok := parts.get("FREQ"); !ok {
		return errors.New("recurrence rule without FREQ")
	}
	if _, ok := parts.get("DTSTART"); ok {
		return errors.New("DTSTART belongs to the event, not the recurrence rule")
	}
	_, hasCount := parts.get("COUNT")
	_, hasUntil := parts.get("UNTIL")
	if hasCount && hasUntil {
		return errors.New("recurrence rule sets both COUNT and UNTIL")
	}
	opt, err := rrule.StrToROption(rule)
	if err != nil {
		return err
	}
	opt.Dtstart = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := rrule.NewRRule(*opt); err != nil {
		return err
	}
	return nil
}

// compile builds the series' rule in frame f, anchored at the master start.
func (s *Series) compile(f frame, env Env) (*rrule.RRule, time.Time, error) {
	dtstart, err := f.place(s.Master.Start, env)
	if err != nil {
		return nil, time.Time{}, err
	}
	opt, err := rrule.StrToROptionInLocation(s.RRule, f.loc)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("rrule %q: %w", s.RRule, err)
	}
	opt.Dtstart = dtstart
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("rrule %q: %w", s.RRule, err)
	}
	return r, dtstart, nil
}

// generates reports whether r produces exactly t.
func generates(r *rrule.RRule, t time.Time) bool {
	for _, got := range r.Between(t, t, true) {
		if got.Equal(t) {
			return true
		}
	}
	return false
}

// rulePart is one NAME=VALUE element of an RRULE.
type rulePart struct {
	name, value string
}

type ruleList []rulePart

func ruleParts(rule string) ruleList {
	var out ruleList
	for _, kv := range strings.Split(rule, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		name, value, _ := strings.Cut(kv, "=")
		out = append(out, rulePart{name: strings.ToUpper(strings.TrimSpace(name)), value: strings.TrimSpace(value)})
	}
	return out
}

func (l ruleList) get(name string) (string, bool) {
	for _, p := range l {
		if p.name == name {
			return p.value, true
		}
	}
	return "", false
}

func (l ruleList) without(names ...string) ruleList {
	var out ruleList
outer:
	for _, p := range l {
		for _, n := range names {
			if p.name == n {
				continue outer
			}
		}
		out = append(out, p)
	}
	return out
}

func (l ruleList) with(name, value string) ruleList {
	return append(l.without(name), rulePart{name: name, value: value})
}

func (l ruleList) String() string {
	parts := make([]string, len(l))
	for i, p := range l {
		parts[i] = p.name + "=" + p.value
	}
	return strings.Join(parts, ";")
}

// untilBefore rewrites rule so that its last instance precedes cut. COUNT is
// replaced because RFC 5545 forbids COUNT together with UNTIL.
func untilBefore(rule string, f frame, cut time.Time) string {
	var until string
	switch {
	case f.allDay:
		until = cut.AddDate(0, 0, -1).Format(dateLayout)
	case f.utc:
		until = cut.Add(-time.Second).UTC().Format(utcLayout)
	case f.floating:
		until = cut.Add(-time.Second).Format(localLayout)
	default:
		until = cut.Add(-time.Second).UTC().Format(utcLayout)
	}
	return ruleParts(rule).without("COUNT").with("UNTIL", until).String()
}

// continueFrom returns the rule for the part of the series starting at cut,
// with COUNT reduced by the instances generated before it.
func continueFrom(rule string, r *rrule.RRule, dtstart, cut time.Time) string {
	parts := ruleParts(rule)
	countStr, ok := parts.get("COUNT")
	if !ok {
		return parts.String()
	}
	count, err := strconv.Atoi(countStr)
	if err != nil {
		return parts.String()
	}
	before := 0
	for _, t := range r.Between(dtstart, cut, true) {
		if t.Before(cut) {
			before++
		}
	}
	remaining := count - before
	if remaining < 1 {
		remaining = 1
	}
	return parts.with("COUNT", strconv.Itoa(remaining)).String()
}
