package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is one entry appended to a stream.
type Message struct {
	ID        string
	Stream    string
	DedupKey  string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s message %s: %w", m.Stream, m.ID, err)
	}
	return nil
}

// Delivery is a message leased to a consumer of a group.
type Delivery struct {
	Message
	Group         string
	Consumer      string
	DeliveryCount int
	LeaseUntil    time.Time
	DeliveredAt   time.Time
}

// Redelivered reports whether an earlier consumer already held this message.
func (d *Delivery) Redelivered() bool {
	return d != nil && d.DeliveryCount > 1
}

// ClaimRequest identifies the consumer asking for work.
type ClaimRequest struct {
	Stream   string
	Group    string
	Consumer string
	// Lease is how long the delivery stays exclusive without an Extend call.
	Lease time.Duration
}

// GroupStats summarizes one consumer group on a stream.
type GroupStats struct {
	Name            string     `json:"name"`
	Pending         int        `json:"pending"`
	InFlight        int        `json:"in_flight"`
	DeadLettered    int        `json:"dead_lettered"`
	Consumers       int        `json:"consumers"`
	LastDeliveredAt *time.Time `json:"last_delivered_at,omitempty"`
}

// StreamStats summarizes one stream.
type StreamStats struct {
	Stream          string       `json:"stream"`
	Length          int          `json:"stream_length"`
	PendingMessages int          `json:"pending_messages"`
	Groups          []GroupStats `json:"consumer_groups"`
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TablesPresent    []string
	MissingTables    []string
	IntegrityCheck   bool
	TotalMessages    int
	Error            string
}
