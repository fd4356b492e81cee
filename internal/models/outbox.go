package models

import "time"

// OutboxEvent is written in the same transaction as the change it describes
// and published to Kafka later by the relay.
type OutboxEvent struct {
	ID            uint64
	Topic         string
	Key           string
	Payload       []byte
	Attempts      int32
	NextAttemptAt time.Time
	LastError     *string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}
