// Package store provides conversation message persistence behind the
// ConversationStore interface, with SQLite and Redis implementations and
// an in-memory mock for tests.
package store
