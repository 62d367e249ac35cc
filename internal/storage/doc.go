package storage

// Package storage persists the state that must survive a restart:
//   - Terminal contact states (sent/errored/blacklisted/ignored per account),
//     so no recipient is ever contacted twice across process lifetimes.
//   - Conversation records (first/last contact, message counts).
//
// Two drivers: a dependency-free file backend (journal + snapshot) and an
// optional SQLite backend behind the "sqlite" build tag.
