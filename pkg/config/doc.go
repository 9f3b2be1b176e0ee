// Package config loads engine settings from weave.cue.
//
// Settings are written in CUE and unified with the built-in #Settings
// definition, which supplies defaults and rejects unknown fields:
//
//	plan_errors: "skip"
//	contexts: {
//		mode: "best-effort"
//		dns: host: "facts.example.com"
//	}
//	journal: path: "/var/lib/weave/journal.db"
//
// After decoding, struct tags are checked with go-playground/validator.
// Errors come back as an engine validation error wrapping ValidationErrors
// with file positions where CUE has them.
//
// The SchemaRegistry is shared with the manifest package, which registers a
// definition per action kind to validate manifest entries.
package config
