// Package notifications pushes urgent events to an ntfy topic.
//
// Workers publish an Event with a loose Payload; the service formats the
// title, body, tags and priority ntfy expects. Events the service does not
// recognize are dropped, and an unconfigured topic yields a no-op service so
// callers never need to check.
package notifications
