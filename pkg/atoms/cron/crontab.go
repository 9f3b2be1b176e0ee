package cron

import (
	"fmt"
	"regexp"
	"strings"

	robfig "github.com/robfig/cron/v3"
)

const markerPrefix = "# weave:"

var envLine = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*\s*=`)

// lineParser reads the five-field form crontab(5) stores.
var lineParser = robfig.NewParser(robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor)

// Entry is one job line of a crontab.
type Entry struct {
	Schedule    string `json:"schedule"`
	Command     string `json:"command"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Line renders the job line without its marker. A bare % in the command is
// escaped, since crontab(5) would otherwise cut the command there.
func (e Entry) Line() string {
	return e.Schedule + " " + escapePercent(e.Command)
}

// Same reports whether e and o are the same job: equal commands and
// schedules that fire at the same times, however they are spelled.
func (e Entry) Same(o Entry) bool {
	return sameCommand(e.Command, o.Command) && sameSchedule(e.Schedule, o.Schedule)
}

func (e Entry) marker() string {
	if e.Description == "" {
		return fmt.Sprintf("%s %s", markerPrefix, e.Name)
	}
	return fmt.Sprintf("%s %s: %s", markerPrefix, e.Name, e.Description)
}

// Table is a crontab held as lines. Comments, blank lines and environment
// assignments are carried through edits untouched.
type Table struct {
	lines []string
}

// ParseTable splits crontab text into a Table.
func ParseTable(text string) *Table {
	text = strings.TrimRight(text, "\n")
	if strings.TrimSpace(text) == "" {
		return &Table{}
	}
	return &Table{lines: strings.Split(text, "\n")}
}

// String renders the table as crontab(5) text with a trailing newline.
func (t *Table) String() string {
	if len(t.lines) == 0 {
		return ""
	}
	return strings.Join(t.lines, "\n") + "\n"
}

// Entries returns the job lines in order. A "# weave: name: description"
// marker directly above a job names it.
func (t *Table) Entries() []Entry {
	var entries []Entry
	for i, line := range t.lines {
		e, ok := parseJob(line)
		if !ok {
			continue
		}
		if i > 0 {
			e.Name, e.Description = parseMarker(t.lines[i-1])
		}
		entries = append(entries, e)
	}
	return entries
}

// Contains reports whether an equivalent job exists.
func (t *Table) Contains(e Entry) bool {
	for _, line := range t.lines {
		if job, ok := parseJob(line); ok && job.Same(e) {
			return true
		}
	}
	return false
}

// Add appends e, preceded by its marker when named. It returns false when
// the job is already present.
func (t *Table) Add(e Entry) bool {
	if t.Contains(e) {
		return false
	}
	if e.Name != "" {
		t.lines = append(t.lines, e.marker())
	}
	t.lines = append(t.lines, e.Line())
	return true
}

// Remove deletes every job for which match returns true, together with
// its marker, and returns how many were removed.
func (t *Table) Remove(match func(Entry) bool) int {
	kept := make([]string, 0, len(t.lines))
	removed := 0
	for i, line := range t.lines {
		e, ok := parseJob(line)
		if !ok {
			kept = append(kept, line)
			continue
		}
		if i > 0 {
			e.Name, e.Description = parseMarker(t.lines[i-1])
		}
		if !match(e) {
			kept = append(kept, line)
			continue
		}
		if e.Name != "" && len(kept) > 0 {
			kept = kept[:len(kept)-1]
		}
		removed++
	}
	t.lines = kept
	return removed
}

// Count returns how many jobs match.
func (t *Table) Count(match func(Entry) bool) int {
	n := 0
	for _, e := range t.Entries() {
		if match(e) {
			n++
		}
	}
	return n
}

func parseJob(line string) (Entry, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") || envLine.MatchString(trimmed) {
		return Entry{}, false
	}

	fields := strings.Fields(trimmed)
	n := 5
	if strings.HasPrefix(fields[0], "@") {
		n = 1
	}
	if len(fields) <= n {
		return Entry{}, false
	}
	return Entry{
		Schedule: strings.Join(fields[:n], " "),
		Command:  unescapePercent(strings.Join(fields[n:], " ")),
	}, true
}

func parseMarker(line string) (name, description string) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), markerPrefix)
	if !ok {
		return "", ""
	}
	name, description, _ = strings.Cut(strings.TrimSpace(rest), ":")
	return strings.TrimSpace(name), strings.TrimSpace(description)
}

func normalize(line string) string {
	return strings.Join(strings.Fields(line), " ")
}

func sameCommand(a, b string) bool {
	return normalize(unescapePercent(a)) == normalize(unescapePercent(b))
}

// sameSchedule compares two crontab schedules by the times they select, so
// "00 * * * *", "0 * * * *" and "@hourly" are one schedule. Expressions the
// parser rejects, such as @reboot, only match their own text.
func sameSchedule(a, b string) bool {
	if strings.EqualFold(normalize(a), normalize(b)) {
		return true
	}
	sa, errA := lineParser.Parse(a)
	sb, errB := lineParser.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	x, okA := sa.(*robfig.SpecSchedule)
	y, okB := sb.(*robfig.SpecSchedule)
	return okA && okB &&
		x.Second == y.Second && x.Minute == y.Minute && x.Hour == y.Hour &&
		x.Dom == y.Dom && x.Month == y.Month && x.Dow == y.Dow
}

// escapePercent escapes every % not already preceded by a backslash.
func escapePercent(command string) string {
	if !strings.Contains(command, "%") {
		return command
	}
	var b strings.Builder
	for i := 0; i < len(command); i++ {
		if command[i] == '%' && (i == 0 || command[i-1] != '\\') {
			b.WriteByte('\\')
		}
		b.WriteByte(command[i])
	}
	return b.String()
}

func unescapePercent(command string) string {
	return strings.ReplaceAll(command, `\%`, "%")
}
