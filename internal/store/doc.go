// Package store provides persistent storage for the chat server using SQLite.
//
// # Architecture
//
// A single Store interface covers the four record kinds:
//
//   - Agent: customer-service agent accounts (seeded via the add-agent command)
//   - Client: auto-registered chat visitors
//   - Conversation: one (agent, client) pair, unique per pair
//   - Message: chat messages with a delivery status
//
// SQLiteStore is the production implementation; MemoryStore mirrors its
// semantics for tests.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC 3339 text. Message timestamps keep
// nanosecond precision so history ordering is stable within a second.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: requested entity does not exist
//   - ErrConversationNotFound: message append against a missing conversation
//   - ErrDuplicateConversation: a conversation for the pair already exists
//
// All methods accept context.Context for cancellation support.
//
// # Status Transitions
//
// Message status moves sent -> delivered -> read and never backwards.
// MarkMessageDelivered is conditional on the message not being read, which
// is how the delayed delivered timer loses to a faster read receipt.
package store
