// Package testutil holds test helpers shared across packages: an in-memory
// gorm database, a scripted fake license authority and a slog capture
// handler. It must not import the packages it helps test.
package testutil
