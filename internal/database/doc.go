// Package database holds the SQLite plumbing shared by the session store and
// the queue transport: connection setup with WAL and foreign keys, schema
// version checks, busy retries, and timestamp helpers.
package database
