// Package presence tracks which users are connected and routes envelopes
// to their live connections. A user may hold several connections at once;
// rooms group connections for fan-out.
package presence
