// Package stores persists run history to a local SQLite database so past
// provisioning runs can be inspected after the fact. The schema is managed
// through embedded golang-migrate migrations.
package stores
