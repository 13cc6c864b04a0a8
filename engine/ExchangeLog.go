package engine

import (
	"encoding/json"
	"sync"
	"time"

	"charge_point/protocol"
)

type Direction string

const (
	Outbound Direction = "out"
	Inbound  Direction = "in"
)

// LogEntry is one message as it crossed the connection.
type LogEntry struct {
	Time        time.Time            `json:"time"`
	Direction   Direction            `json:"direction"`
	MessageType protocol.MessageType `json:"messageTypeId"`
	UniqueId    string               `json:"uniqueId"`
	Action      string               `json:"action,omitempty"`
	Message     json.RawMessage      `json:"message"`
}

// ExchangeLog is the ordered, append only history of exchanged messages.
type ExchangeLog struct {
	mu      sync.Mutex
	entries []LogEntry
}

func NewExchangeLog() *ExchangeLog {
	return &ExchangeLog{}
}

func (l *ExchangeLog) Append(entry LogEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a copy of the log.
func (l *ExchangeLog) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]LogEntry, len(l.entries))
	copy(entries, l.entries)
	return entries
}

func (l *ExchangeLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func newLogEntry(direction Direction, message protocol.Message, action string) LogEntry {
	raw, _ := protocol.Encode(message)
	switch msg := message.(type) {
	case *protocol.Call:
		action = msg.Action
	case *protocol.CallResult:
		if action == "" {
			action = msg.Action
		}
	}
	return LogEntry{
		Time:        time.Now(),
		Direction:   direction,
		MessageType: message.GetMessageTypeId(),
		UniqueId:    message.GetUniqueId(),
		Action:      action,
		Message:     raw,
	}
}
