// Package queue is the durable stream transport between the HTTP coordinator
// and the workers. It models append-only streams with consumer groups on top
// of SQLite.
//
// Every message carries an explicit ID and an optional dedup key; publishing
// the same key twice on a stream returns the first message. A delivery is
// tracked per (message, group). Claiming a delivery leases it to one consumer;
// a lease that is not extended or acknowledged expires and the message becomes
// claimable by another consumer in the group. Acknowledged messages are trimmed
// after the retention window once every registered group has acknowledged them.
//
// The database is treated as transient storage for in-flight jobs. Schema
// changes bump schemaVersion; users clear the database to adopt the new schema.
package queue
