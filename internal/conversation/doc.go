// Package conversation manages the directory of agent/client conversations:
// idempotent creation by pair, lookups, and the triage-ordered listings the
// agent dashboard renders.
package conversation
