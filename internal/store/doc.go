// Package store provides persistent storage for the help desk.
//
// # Architecture
//
// A single Store interface covers users, expert profiles, conversations,
// messages and expert assignments. SQLStore implements it over database/sql
// for two drivers:
//
//   - SQLite via modernc.org/sqlite (NewSQLiteStore), the default
//   - Postgres via lib/pq (NewPostgresStore)
//
// The drivers differ only in id and boolean column types and placeholder
// syntax, handled by the dialect type.
//
// # Data Models
//
//   - User: account; every user owns exactly one ExpertProfile
//   - ExpertProfile: bio plus knowledge base links; a non-blank bio makes the user routable
//   - Conversation: waiting, active or resolved; AssignedExpertID is set exactly when not waiting
//   - Message: one chat line with sender role and read flag
//   - ExpertAssignment: one claim cycle of an expert on a conversation
//
// # Assignment Transitions
//
// AssignExpert, UnassignExpert and ResolveConversation are compare-and-set
// updates. When two experts race to claim the same conversation exactly one
// succeeds; the other gets ErrAlreadyAssigned.
//
// # Timestamps
//
// Timestamps are stored as fixed-width UTC text so lexical and chronological
// order agree in both drivers.
//
// # Testing
//
// Use NewMockStore() for unit tests, or NewSQLiteStore(":memory:") for
// integration tests against real SQLite.
package store
