// Package storage persists crawler state.
//
// Store is a small key-value layout shared by every backend:
//
//	tabs       append-only list of profile records
//	isRunning  mirror of the scheduler's enabled flag
//	maxTabs    settings mirror
//	devMode    settings mirror
//	frontier   queue and visited set saved on shutdown
//
// Backends are a JSON file replaced atomically on every write (the default,
// kept in the user data directory), SQLite via modernc.org/sqlite, Redis
// and an in-memory map for tests and throwaway runs.
//
// AvatarStore is separate: it keeps downloaded profile images on disk as
// <username>.jpg.
package storage
