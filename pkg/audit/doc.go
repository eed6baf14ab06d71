// Package audit records one entry per tool call. Entries are written after
// the call completes and are never consulted on the request path; they back
// the ops listener's /audit endpoint and offline review.
//
// Implementations: memory (bounded, process-local) and postgres.
package audit
