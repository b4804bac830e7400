// Package updates delivers conversation, message and queue changes to clients.
//
// Clients either pull with a since timestamp (Queries) or hold an SSE stream
// open (Stream). Both read the same since-queries; every comparison is
// strictly greater-than, so a client that passes back the last watermark
// never sees the same row twice from one query.
//
// The stream polls on a fixed interval. Writes made through the help desk
// service also wake the affected streams through Notifier, so most changes
// arrive before the next tick.
package updates
