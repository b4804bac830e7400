// Package helpdesk implements the help desk application layer: conversations,
// messages, the expert queue, claims and profiles.
//
// Every write follows the same order. The store change commits, the cache
// keys it affects are invalidated, live streams are woken, and only then are
// automation jobs enqueued. A warm cache therefore never serves data older
// than the write the caller just made.
//
// Payloads render IDs as strings and timestamps as RFC 3339 so the JSON
// matches the web client's API.
package helpdesk
