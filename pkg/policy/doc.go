// Package policy checks plans against Open Policy Agent (OPA) policies
// before anything runs.
//
// Each policy is a Rego module whose deny rules produce violations. The
// input document describes the planned steps and who runs them:
//
//	{
//	  "steps": [
//	    {"index": 0, "action": "cron.add", "kind": "cron.add",
//	     "summary": "Add cron item @daily (backup)", "privileged": false,
//	     "params": {"schedule": "@daily", "command": "backup.sh", "user": "alice"},
//	     "hooks": 0}
//	  ],
//	  "context": {"user": "deploy", "root": false, "host": "local",
//	              "scope_privileged": false, "dry_run": true}
//	}
//
// A deny rule yields either a message string or an object:
//
//	package site.cron
//
//	deny contains violation if {
//	    some step in input.steps
//	    step.kind == "cron.add"
//	    startswith(step.params.command, "/tmp/")
//	    violation := {
//	        "message": "cron jobs must not run from /tmp",
//	        "severity": "error",
//	        "step": step.index,
//	    }
//	}
//
// Violations with severity error or critical deny the plan; info and warning
// findings are reported and the run continues.
//
// # Built-in Policies
//
//   - cron-frequency: warns about jobs that fire every minute.
//   - privileged-user: denies edits to another user's crontab from a
//     non-root login unless the step runs privileged.
//
// Site policies are loaded from the directories in the policy.paths setting
// with Engine.LoadPolicies, and Loader.Watch reloads them when files change.
package policy
