package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hostweave/hostweave/pkg/engine"
	"github.com/hostweave/hostweave/pkg/host"
)

// fakeCrontab emulates crontab(1) for a set of users on one host.
type fakeCrontab struct {
	tables   map[string]string
	files    map[string]string
	modes    []uint32
	commands []string
	readErr  error
}

func newFakeCrontab() *fakeCrontab {
	return &fakeCrontab{tables: map[string]string{}, files: map[string]string{}}
}

func (f *fakeCrontab) Run(_ context.Context, cmd host.Command) (*host.Result, error) {
	f.commands = append(f.commands, cmd.String())

	switch cmd.Name {
	case "rm":
		delete(f.files, cmd.Args[len(cmd.Args)-1])
		return &host.Result{}, nil
	case "crontab":
	default:
		return nil, fmt.Errorf("unexpected command %s", cmd)
	}

	args := cmd.Args
	user := "self"
	if len(args) >= 2 && args[0] == "-u" {
		user, args = args[1], args[2:]
	}

	if args[0] == "-l" {
		if f.readErr != nil {
			return nil, f.readErr
		}
		table, ok := f.tables[user]
		if !ok {
			stderr := "no crontab for " + user
			return &host.Result{Stderr: stderr, ExitCode: 1}, &host.ExitError{Command: cmd.String(), ExitCode: 1, Stderr: stderr}
		}
		return &host.Result{Stdout: table}, nil
	}

	data, ok := f.files[args[0]]
	if !ok {
		return nil, &host.ExitError{Command: cmd.String(), ExitCode: 1, Stderr: "no such file"}
	}
	f.tables[user] = data
	return &host.Result{}, nil
}

func (f *fakeCrontab) WriteFile(_ context.Context, path string, data []byte, mode uint32) error {
	f.files[path] = string(data)
	f.modes = append(f.modes, mode)
	return nil
}

func (f *fakeCrontab) IsRoot() bool { return false }
func (f *fakeCrontab) Name() string { return "fake" }
func (f *fakeCrontab) Close() error { return nil }

// mutations counts commands that installed a table.
func (f *fakeCrontab) mutations() int {
	n := 0
	for _, c := range f.commands {
		if strings.HasPrefix(c, "crontab") && !strings.HasSuffix(c, "-l") {
			n++
		}
	}
	return n
}

func testEnv(exec host.Executor) *engine.Env {
	return &engine.Env{
		Host:   exec,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC) },
	}
}

func mustParse(t *testing.T, input string) *Schedule {
	t.Helper()
	s, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", input, err)
	}
	return s
}

func TestAddPlanAndExecute(t *testing.T) {
	fake := newFakeCrontab()
	env := testEnv(fake)
	ctx := context.Background()

	atom := &Add{Schedule: mustParse(t, "00 00 * * * * script.sh"), Command: "script.sh", Name: "nightly"}

	outcome, err := atom.Plan(ctx, env)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if !outcome.ShouldRun || len(outcome.SideEffects) != 1 {
		t.Fatalf("outcome = %+v, want one write", outcome)
	}
	if fake.mutations() != 0 {
		t.Fatal("Plan mutated the crontab")
	}

	if err := atom.Execute(ctx, env); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got, want := fake.tables["self"], "# weave: nightly\n00 * * * * script.sh\n"; got != want {
		t.Errorf("crontab = %q, want %q", got, want)
	}
	if len(fake.files) != 0 {
		t.Errorf("staged files left behind: %v", fake.files)
	}
	if len(fake.modes) != 1 || fake.modes[0] != 0o600 {
		t.Errorf("staged crontab modes = %o, want [600]", fake.modes)
	}

	outcome, err = atom.Plan(ctx, env)
	if err != nil {
		t.Fatalf("second Plan failed: %v", err)
	}
	if outcome.ShouldRun {
		t.Error("Plan should report no change once the job is installed")
	}
}

func TestEquivalentSchedules(t *testing.T) {
	fake := newFakeCrontab()
	env := testEnv(fake)
	ctx := context.Background()

	installed := &Add{Schedule: mustParse(t, "00 00 * * * * script.sh"), Command: "script.sh"}
	if err := installed.Execute(ctx, env); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := fake.tables["self"]; got != "00 * * * * script.sh\n" {
		t.Fatalf("crontab = %q", got)
	}

	for _, spelling := range []string{"0 * * * * script.sh", "@hourly script.sh", "every hour"} {
		again := &Add{Schedule: mustParse(t, spelling), Command: "script.sh"}
		outcome, err := again.Plan(ctx, env)
		if err != nil {
			t.Fatalf("Plan(%q) failed: %v", spelling, err)
		}
		if outcome.ShouldRun {
			t.Errorf("Add %q would install a duplicate", spelling)
		}
	}

	remove := &Remove{Schedule: mustParse(t, "every hour"), Command: "script.sh"}
	outcome, err := remove.Plan(ctx, env)
	if err != nil {
		t.Fatalf("Remove.Plan failed: %v", err)
	}
	if !outcome.ShouldRun {
		t.Fatal("Remove did not find the job installed under another spelling")
	}
	if err := remove.Execute(ctx, env); err != nil {
		t.Fatalf("Remove.Execute failed: %v", err)
	}
	if got := fake.tables["self"]; got != "" {
		t.Errorf("crontab after remove = %q", got)
	}
}

func TestAddEscapesPercent(t *testing.T) {
	fake := newFakeCrontab()
	env := testEnv(fake)
	ctx := context.Background()

	atom := &Add{Schedule: mustParse(t, "@daily"), Command: "date +%Y-%m-%d > /tmp/stamp"}
	if err := atom.Execute(ctx, env); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got, want := fake.tables["self"], "@daily date +\\%Y-\\%m-\\%d > /tmp/stamp\n"; got != want {
		t.Errorf("crontab = %q, want %q", got, want)
	}

	outcome, err := atom.Plan(ctx, env)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if outcome.ShouldRun {
		t.Error("escaped job not recognized as installed")
	}
}

func TestAddForUser(t *testing.T) {
	fake := newFakeCrontab()
	atom := &Add{Schedule: mustParse(t, "every day at midnight"), Command: "backup.sh", User: "alice", Privileged: true}

	if err := atom.Execute(context.Background(), testEnv(fake)); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := fake.tables["alice"]; got != "0 0 * * * backup.sh\n" {
		t.Errorf("alice's crontab = %q", got)
	}
	if !atom.RequiresPrivilege() {
		t.Error("expected privileged atom")
	}
}

func TestAddInvalid(t *testing.T) {
	tests := []struct {
		name string
		atom *Add
	}{
		{"no command", &Add{Schedule: mustParse(t, "hourly")}},
		{"sub-minute", &Add{Schedule: mustParse(t, "*/10 * * * * *"), Command: "x"}},
		{"no schedule", &Add{Command: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.atom.Plan(context.Background(), testEnv(newFakeCrontab()))
			if !errors.Is(err, engine.ErrAtomInvalid) {
				t.Fatalf("expected ErrAtomInvalid, got %v", err)
			}
		})
	}
}

func TestPlanDegradesWhenUnreadable(t *testing.T) {
	fake := newFakeCrontab()
	fake.readErr = errors.New("connection reset")

	outcome, err := (&Add{Schedule: mustParse(t, "hourly"), Command: "x"}).Plan(context.Background(), testEnv(fake))
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if !outcome.ShouldRun || len(outcome.SideEffects) != 0 {
		t.Errorf("outcome = %+v, want run with no side effects", outcome)
	}
}

func TestAddNextRun(t *testing.T) {
	atom := &Add{Schedule: mustParse(t, "every day at midnight"), Command: "backup.sh"}

	msg, ok := atom.NextRun(time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC))
	if !ok {
		t.Fatal("expected a next run")
	}
	want := `Schedule "every day at midnight" (0 0 * * *) to run backup.sh will match next time at 2024-03-11T00:00:00Z`
	if msg != want {
		t.Errorf("msg = %q, want %q", msg, want)
	}

	reboot := &Add{Schedule: mustParse(t, "@reboot"), Command: "start.sh"}
	if _, ok := reboot.NextRun(time.Now()); ok {
		t.Error("@reboot should not report a next run")
	}
}

func TestRemove(t *testing.T) {
	tests := []struct {
		name    string
		atom    *Remove
		want    string
		changed bool
	}{
		{
			name:    "by schedule matches equivalent spellings",
			atom:    &Remove{Schedule: mustParse(t, "every day at midnight")},
			want:    "",
			changed: true,
		},
		{
			name:    "leading zeros and command",
			atom:    &Remove{Schedule: mustParse(t, "00 00 * * *"), Command: "backup.sh"},
			want:    "# weave: rotate: logs\n@daily logrotate\n",
			changed: true,
		},
		{
			name:    "by schedule and command",
			atom:    &Remove{Schedule: mustParse(t, "0 0 * * *"), Command: "other.sh"},
			want:    "0 0 * * * backup.sh\n# weave: rotate: logs\n@daily logrotate\n",
			changed: false,
		},
		{
			name:    "by name",
			atom:    &Remove{Name: "rotate"},
			want:    "0 0 * * * backup.sh\n",
			changed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeCrontab()
			fake.tables["self"] = "0 0 * * * backup.sh\n# weave: rotate: logs\n@daily logrotate\n"
			env := testEnv(fake)

			outcome, err := tt.atom.Plan(context.Background(), env)
			if err != nil {
				t.Fatalf("Plan failed: %v", err)
			}
			if outcome.ShouldRun != tt.changed {
				t.Fatalf("ShouldRun = %v, want %v", outcome.ShouldRun, tt.changed)
			}
			if !outcome.ShouldRun {
				if fake.mutations() != 0 {
					t.Error("no-op remove touched the crontab")
				}
				return
			}

			if err := tt.atom.Execute(context.Background(), env); err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if got := fake.tables["self"]; got != tt.want {
				t.Errorf("crontab = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestList(t *testing.T) {
	fake := newFakeCrontab()
	fake.tables["bob"] = "# weave: a: first\n@hourly a.sh\n*/2 * * * * b.sh\n"
	atom := &List{User: "bob"}

	outcome, err := atom.Plan(context.Background(), testEnv(fake))
	if err != nil || !outcome.ShouldRun {
		t.Fatalf("Plan = %+v, %v", outcome, err)
	}
	if outcome.SideEffects[0].Kind != engine.SideEffectRead {
		t.Errorf("side effect = %+v, want read", outcome.SideEffects[0])
	}

	if err := atom.Execute(context.Background(), testEnv(fake)); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	entries := atom.Entries()
	if len(entries) != 2 || entries[0].Name != "a" || entries[1].Command != "b.sh" {
		t.Errorf("entries = %+v", entries)
	}
	if fake.mutations() != 0 {
		t.Error("list touched the crontab")
	}
}

func TestListWithoutCrontab(t *testing.T) {
	atom := &List{}
	if err := atom.Execute(context.Background(), testEnv(newFakeCrontab())); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(atom.Entries()) != 0 {
		t.Errorf("entries = %+v", atom.Entries())
	}
}
