package proto

import (
	"encoding/json"
	"fmt"
)

// Chirp is the decoded form of one report document.
type Chirp struct {
	Node       uint16     `json:"node"`
	Diagnostic Diagnostic `json:"diagnostic"`
	Data       string     `json:"data"`
}

type Diagnostic struct {
	Status     uint8  `json:"status"`
	Battery    uint8  `json:"battery"`
	Reserved16 uint16 `json:"reserved_16"`
	UptimeSec  uint64 `json:"uptime_sec"`
}

// Message is a chirp as it crosses a transport: the full topic plus the
// encoded document.
type Message struct {
	Topic     string          `json:"topic"`            // e.g. "btnt/humidity"
	Payload   json.RawMessage `json:"payload"`          // encoded chirp document
	Sender    string          `json:"sender,omitempty"` // client id of the publishing node
	Timestamp int64           `json:"timestamp"`        // UNIX timestamp in seconds
}

// Chirp decodes the message payload.
func (m Message) Chirp() (Chirp, error) {
	return DecodeChirp(m.Payload)
}

func DecodeChirp(body []byte) (Chirp, error) {
	var c Chirp
	if err := json.Unmarshal(body, &c); err != nil {
		return Chirp{}, fmt.Errorf("invalid chirp document: %w", err)
	}
	return c, nil
}
