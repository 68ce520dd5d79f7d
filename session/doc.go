// Package session contains core.SessionStore implementations.
//
// InMemoryStore lives here; durable backends are in the sqlite, postgres and
// badger sub-packages. All of them share the same contract: events are kept
// in append order, a repeated event id is rejected with core.ErrDuplicateEvent
// and unknown sessions yield core.ErrSessionNotFound. Create is idempotent and
// returns the existing session when the id is already taken.
//
// Agents never touch a store directly. The runner is the single writer.
package session
