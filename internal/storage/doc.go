// Package storage provides the durable layer behind reminders and
// notifications.
//
// It currently supports:
//   - SQLite (modernc, cgo-free) as the production driver
//   - an in-memory driver for tests and persistence-less runs
package storage
