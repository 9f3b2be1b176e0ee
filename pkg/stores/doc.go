// Package stores keeps the run journal: a SQLite database of runs, their
// step results and the event timeline, written by Journal as the runner
// publishes events and read back by weave history.
//
// The schema is embedded and applied with golang-migrate on open.
package stores
