package cron

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hostweave/hostweave/pkg/engine"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		phrase  string
		want    string
		ok      bool
		wantErr bool
	}{
		{"every day at midnight", "0 0 * * *", true, false},
		{"Every  Day at Noon", "0 12 * * *", true, false},
		{"every minute", "* * * * *", true, false},
		{"every 15 minutes", "*/15 * * * *", true, false},
		{"every 1 minute", "* * * * *", true, false},
		{"hourly", "0 * * * *", true, false},
		{"every 6 hours", "0 */6 * * *", true, false},
		{"at 7:30pm", "30 19 * * *", true, false},
		{"every weekday at 9am", "0 9 * * 1-5", true, false},
		{"every weekend at 10:15", "15 10 * * 0,6", true, false},
		{"every monday at 12am", "0 0 * * 1", true, false},
		{"weekly", "0 0 * * 0", true, false},
		{"monthly", "0 0 1 * *", true, false},
		{"every year", "0 0 1 1 *", true, false},
		{"annually", "0 0 1 1 *", true, false},
		{"every saturday at midday", "0 12 * * 6", true, false},
		{"at 7", "0 7 * * *", true, false},
		{"every 24 hours", "", true, true},
		{"every 90 minutes", "", true, true},
		{"every day at 25:00", "", true, true},
		{"every day at 13pm", "", true, true},
		{"not a schedule", "", false, false},
		{"0 0 * * *", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.phrase, func(t *testing.T) {
			got, ok, err := translate(tt.phrase)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("translate(%q) = %q, want %q", tt.phrase, got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		input       string
		wantExpr    string
		wantCommand string
		wantCrontab string
	}{
		{"every day at midnight", "0 0 * * *", "", "0 0 * * *"},
		{"00 00 * * * * script.sh", "00 00 * * * *", "script.sh", "00 * * * *"},
		{"*/5 * * * * /usr/bin/backup --full", "*/5 * * * *", "/usr/bin/backup --full", "*/5 * * * *"},
		{"0 9 * * mon-fri", "0 9 * * mon-fri", "", "0 9 * * mon-fri"},
		{"@daily rotate.sh", "@daily", "rotate.sh", "@daily"},
		{"@reboot start.sh", "@reboot", "start.sh", "@reboot"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			s, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if s.Expr != tt.wantExpr {
				t.Errorf("expr = %q, want %q", s.Expr, tt.wantExpr)
			}
			if s.Command != tt.wantCommand {
				t.Errorf("command = %q, want %q", s.Command, tt.wantCommand)
			}
			got, err := s.Crontab()
			if err != nil {
				t.Fatalf("Crontab failed: %v", err)
			}
			if got != tt.wantCrontab {
				t.Errorf("crontab = %q, want %q", got, tt.wantCrontab)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []string{"not a schedule", "invalid-cron", "61 * * * *", "", "every 90 minutes"}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			if !errors.Is(err, engine.ErrInvalidSchedule) {
				t.Fatalf("expected ErrInvalidSchedule, got %v", err)
			}
			if input != "" && !strings.Contains(err.Error(), input) {
				t.Errorf("error should name the input: %v", err)
			}
		})
	}
}

func TestCrontabRejectsUnrepresentable(t *testing.T) {
	for _, input := range []string{"30 0 0 * * *", "@every 5m"} {
		s, err := Parse(input)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", input, err)
		}
		if _, err := s.Crontab(); !errors.Is(err, engine.ErrAtomInvalid) {
			t.Errorf("Crontab(%q): expected ErrAtomInvalid, got %v", input, err)
		}
	}
}

func TestNext(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC)

	s, err := Parse("every day at midnight")
	if err != nil {
		t.Fatal(err)
	}
	next, ok := s.Next(now)
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	if want := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	s, err = Parse("@reboot boot.sh")
	if err != nil {
		t.Fatal(err)
	}
	if !s.Reboot() {
		t.Error("expected a reboot schedule")
	}
	if _, ok := s.Next(now); ok {
		t.Error("@reboot has no next occurrence")
	}
}
