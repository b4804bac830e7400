// Package jobs runs help desk automation off the request path.
//
// # Pool
//
// Pool is a fixed set of workers reading from a buffered queue. Enqueue
// never blocks: when the queue is full the job is dropped and counted.
//
// Each job gets up to MaxAttempts tries. A handler error means an
// infrastructure fault (a missing record, a datastore error) and is retried
// with exponential backoff plus jitter. Automation failures such as an LLM
// timeout or an unreachable knowledge base link are absorbed by the
// components and never reach the pool.
//
// # Kinds
//
//   - assign_expert: route a waiting conversation to an expert
//   - faq_respond: answer an initiator's first message from the expert's links
//   - summarize: refresh the conversation summary
//
// Handlers wires the kinds to the routing, faq and summary components.
package jobs
