package model

import "time"

// Message is a durably persisted SMS record. Rows are created exclusively by
// the ingestion poller and never mutated afterwards. The tuple
// (imei, sender, text, timestamp) is the natural dedup key; it is enforced by
// the poller's exists-check rather than a database constraint.
type Message struct {
	ID        int64     `json:"id"        gorm:"primaryKey;autoIncrement"`
	IMEI      string    `json:"imei"      gorm:"column:imei;not null;index"`
	Sender    string    `json:"sender"    gorm:"not null"`
	Text      string    `json:"text"      gorm:"not null"`
	Timestamp time.Time `json:"timestamp" gorm:"not null;index"`
}

func (Message) TableName() string { return "messages" }

// Normalize converts the timestamp to UTC. Every message is normalized before
// it is compared against stored rows, inserted, or used as a filter bound.
func (m *Message) Normalize() {
	m.Timestamp = m.Timestamp.UTC()
}
