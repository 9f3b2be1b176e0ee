// Package cron implements the cron.add, cron.remove and cron.list atoms and
// the schedule grammar they share.
package cron

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/hostweave/hostweave/pkg/engine"
)

const reboot = "@reboot"

var parser = robfig.NewParser(
	robfig.SecondOptional | robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor,
)

var cronToken = regexp.MustCompile(`(?i)^(?:[0-9*?/,-]|jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec|sun|mon|tue|wed|thu|fri|sat)+$`)

// Schedule is a parsed schedule.
type Schedule struct {
	// Input is the text the schedule was parsed from.
	Input string

	// Expr is the cron expression: five or six fields, or a descriptor.
	Expr string

	// Command is the trailing command of a full crontab line, if any.
	Command string

	spec robfig.Schedule
}

// Parse resolves input as a schedule. English phrases are tried first,
// then the cron grammar with an optional leading seconds field and
// descriptors. Tokens after the cron fields are taken as the command, so
// "00 00 * * * * script.sh" yields a six-field schedule running script.sh.
//
// When input is neither, the strict parser's error is returned inside an
// engine.ErrInvalidSchedule.
func Parse(input string) (*Schedule, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return nil, engine.NewInvalidScheduleError(input, fmt.Errorf("empty schedule"))
	}

	expr, recognized, translateErr := translate(text)
	if recognized && translateErr == nil {
		spec, err := parser.Parse(expr)
		if err != nil {
			return nil, engine.NewInvalidScheduleError(input, err)
		}
		return &Schedule{Input: input, Expr: expr, spec: spec}, nil
	}

	expr, command := split(text)

	if strings.EqualFold(expr, reboot) {
		return &Schedule{Input: input, Expr: reboot, Command: command}, nil
	}

	spec, err := parser.Parse(expr)
	if err != nil {
		invalid := engine.NewInvalidScheduleError(input, err)
		if translateErr != nil {
			invalid.WithDetail("translation", translateErr.Error())
		}
		return nil, invalid
	}
	return &Schedule{Input: input, Expr: expr, Command: command, spec: spec}, nil
}

// split separates the leading cron fields (or descriptor) from a command.
func split(text string) (expr, command string) {
	fields := strings.Fields(text)

	if strings.HasPrefix(fields[0], "@") {
		n := 1
		if strings.EqualFold(fields[0], "@every") && len(fields) > 1 {
			n = 2
		}
		return strings.Join(fields[:n], " "), strings.Join(fields[n:], " ")
	}

	n := 0
	for n < len(fields) && n < 6 && cronToken.MatchString(fields[n]) {
		n++
	}
	if n < 5 {
		return text, ""
	}
	return strings.Join(fields[:n], " "), strings.Join(fields[n:], " ")
}

// Reboot reports whether the schedule runs at boot rather than on a clock.
func (s *Schedule) Reboot() bool {
	return s.Expr == reboot
}

// Crontab renders the schedule for a crontab line. A six-field expression is
// accepted only with a zero seconds field, which is dropped.
func (s *Schedule) Crontab() (string, error) {
	if strings.HasPrefix(s.Expr, "@") {
		if strings.HasPrefix(strings.ToLower(s.Expr), "@every") {
			return "", engine.NewAtomInvalidError(
				fmt.Sprintf("schedule %q uses an interval crontab cannot express", s.Input), nil)
		}
		return strings.ToLower(s.Expr), nil
	}

	fields := strings.Fields(s.Expr)
	if len(fields) == 6 {
		if strings.Trim(fields[0], "0") != "" || fields[0] == "" {
			return "", engine.NewAtomInvalidError(
				fmt.Sprintf("schedule %q needs second %q; crontab has minute resolution", s.Input, fields[0]), nil)
		}
		fields = fields[1:]
	}
	return strings.Join(fields, " "), nil
}

// Next returns the first activation after now, in now's location. ok is
// false for @reboot.
func (s *Schedule) Next(now time.Time) (next time.Time, ok bool) {
	if s.spec == nil {
		return time.Time{}, false
	}
	spec := s.spec
	if ss, isSpec := spec.(*robfig.SpecSchedule); isSpec {
		local := *ss
		local.Location = now.Location()
		spec = &local
	}
	next = spec.Next(now)
	return next, !next.IsZero()
}

// String returns the schedule's expression.
func (s *Schedule) String() string {
	return s.Expr
}

// MarshalText encodes the schedule as its expression.
func (s *Schedule) MarshalText() ([]byte, error) {
	return []byte(s.Expr), nil
}
