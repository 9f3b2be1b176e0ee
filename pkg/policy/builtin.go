package policy

// BuiltinPolicies returns the policies shipped with weave.
func BuiltinPolicies() []Policy {
	return []Policy{
		cronFrequencyPolicy(),
		privilegedUserPolicy(),
	}
}

// cronFrequencyPolicy flags jobs that fire every minute.
func cronFrequencyPolicy() Policy {
	return Policy{
		Name:        "cron-frequency",
		Description: "Warns about cron jobs scheduled to run every minute",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"cron", "load"},
		Rego: `package hostweave.policies.cron_frequency

minute_field(fields) := fields[0] if {
	count(fields) == 5
}

minute_field(fields) := fields[1] if {
	count(fields) == 6
}

every_minute(expr) if {
	fields := regex.split("\\s+", trim_space(expr))
	minute_field(fields) in {"*", "*/1"}
}

deny contains violation if {
	some step in input.steps
	step.kind == "cron.add"
	every_minute(step.params.schedule)

	violation := {
		"message": sprintf("%s runs every minute", [step.summary]),
		"severity": "warning",
		"step": step.index,
		"action": step.action,
	}
}`,
	}
}

// privilegedUserPolicy denies edits to another user's crontab that would
// run without privilege. crontab -u only works for root.
func privilegedUserPolicy() Policy {
	return Policy{
		Name:        "privileged-user",
		Description: "Denies changes to another user's crontab unless the step runs privileged",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"cron", "privilege"},
		Rego: `package hostweave.policies.privileged_user

crontab_changes := {"cron.add", "cron.remove"}

other_user(step) if {
	step.params.user
	step.params.user != input.context.user
}

deny contains violation if {
	some step in input.steps
	step.kind in crontab_changes
	other_user(step)
	not input.context.root
	not input.context.scope_privileged
	not step.privileged

	violation := {
		"message": sprintf("%s edits the crontab of %q as %q without privilege; set privileged: true", [step.summary, step.params.user, input.context.user]),
		"severity": "error",
		"step": step.index,
		"action": step.action,
	}
}`,
	}
}
