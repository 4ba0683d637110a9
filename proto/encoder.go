package proto

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// TopicPrefix is prepended to every topic name a node publishes on.
	TopicPrefix = "btnt/"

	MaxTopicNameLen = 12
	TopicBufferLen  = len(TopicPrefix) + MaxTopicNameLen
	MaxDataLen      = 128

	// MaxBrokerHostLen bounds the broker hostname a node is configured with.
	// These are µCs. Don't use overly flowery hostnames.
	MaxBrokerHostLen = 24
)

// Chirp document template, split around its placeholders.
const (
	chirpNode    = "{\n\t\"node\": "
	chirpStatus  = ",\n\t\"diagnostic\": {\n\t\t\"status\": "
	chirpBattery = ",\n\t\t\"battery\": "
	chirpUptime  = ",\n\t\t\"reserved_16\": 0,\n\t\t\"uptime_sec\": "
	chirpData    = "\n\t},\n\t\"data\": \""
	chirpEnd     = "\"\n}"

	chirpTemplateLen = len(chirpNode) + len(chirpStatus) + len(chirpBattery) +
		len(chirpUptime) + len(chirpData) + len(chirpEnd)

	// maxEscapeLen is the widest escape of a single payload byte (\u00XX).
	maxEscapeLen = 6

	// ChirpBufferLen fits the widest node id (5 digits), status and battery
	// (3 each), uptime (20) and a payload made entirely of control bytes.
	ChirpBufferLen = chirpTemplateLen + 5 + 3 + 3 + 20 + maxEscapeLen*MaxDataLen
)

// Header carries the numeric fields of a chirp.
type Header struct {
	Node      uint16
	Status    uint8
	Battery   uint8
	UptimeSec uint64
}

// Encoder formats chirps into fixed-capacity buffers. The slices it returns
// alias those buffers and are only valid until the next call. An Encoder is
// not safe for concurrent use.
type Encoder struct {
	topic [TopicBufferLen]byte
	data  [MaxDataLen]byte
	chirp [ChirpBufferLen]byte
}

func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode validates topic and payload and formats the full topic and the chirp
// document. On error nothing is returned; no partial document is produced.
func (e *Encoder) Encode(h Header, topic, payload string) ([]byte, []byte, error) {
	if err := ValidateTopicName(topic); err != nil {
		return nil, nil, err
	}
	if err := ValidatePayload(payload); err != nil {
		return nil, nil, err
	}

	tw := fixedWriter{buf: e.topic[:]}
	tw.str(TopicPrefix)
	tw.str(topic)
	if tw.overflow {
		return nil, nil, &EncodeError{Kind: FormatOverflow, Field: "topic", Limit: TopicBufferLen}
	}

	cw := fixedWriter{buf: e.chirp[:]}
	cw.str(chirpNode)
	cw.uint(uint64(h.Node))
	cw.str(chirpStatus)
	cw.uint(uint64(h.Status))
	cw.str(chirpBattery)
	cw.uint(uint64(h.Battery))
	cw.str(chirpUptime)
	cw.uint(h.UptimeSec)
	cw.str(chirpData)
	cw.jsonString(payload)
	cw.str(chirpEnd)
	if cw.overflow {
		return nil, nil, &EncodeError{Kind: FormatOverflow, Field: "chirp", Length: len(payload), Limit: ChirpBufferLen}
	}

	return tw.bytes(), cw.bytes(), nil
}

// EncodeFloat formats v with two decimals into the data buffer.
func (e *Encoder) EncodeFloat(v float32) ([]byte, error) {
	var scratch [64]byte
	s := strconv.AppendFloat(scratch[:0], float64(v), 'f', 2, 32)
	if len(s) > len(e.data) {
		return nil, &EncodeError{Kind: FormatOverflow, Field: "data", Length: len(s), Limit: MaxDataLen}
	}
	n := copy(e.data[:], s)
	return e.data[:n], nil
}

// ValidateTopicName checks a short topic name, the part after TopicPrefix.
func ValidateTopicName(topic string) error {
	if len(topic) > MaxTopicNameLen {
		return &EncodeError{Kind: TopicTooLong, Field: "topic", Length: len(topic), Limit: MaxTopicNameLen}
	}
	// Wildcards and NUL are not allowed in a published topic.
	if strings.ContainsAny(topic, "+#\x00") {
		return &EncodeError{Kind: InvalidTopic, Field: "topic", Length: len(topic), Limit: MaxTopicNameLen}
	}
	return nil
}

// ValidatePayload checks the chirp data string. It must fit MaxDataLen and be
// valid UTF-8 so the document decodes back to the same bytes.
func ValidatePayload(payload string) error {
	if len(payload) > MaxDataLen {
		return &EncodeError{Kind: PayloadTooLong, Field: "data", Length: len(payload), Limit: MaxDataLen}
	}
	if !utf8.ValidString(payload) {
		return &EncodeError{Kind: InvalidPayload, Field: "data", Length: len(payload), Limit: MaxDataLen}
	}
	return nil
}

// fixedWriter appends into a buffer that never grows. Once a write does not
// fit, overflow is latched and every later write is ignored.
type fixedWriter struct {
	buf      []byte
	n        int
	overflow bool
}

func (w *fixedWriter) str(s string) {
	if w.overflow {
		return
	}
	if w.n+len(s) > len(w.buf) {
		w.overflow = true
		return
	}
	w.n += copy(w.buf[w.n:], s)
}

func (w *fixedWriter) raw(b []byte) {
	if w.overflow {
		return
	}
	if w.n+len(b) > len(w.buf) {
		w.overflow = true
		return
	}
	w.n += copy(w.buf[w.n:], b)
}

func (w *fixedWriter) byte(c byte) {
	if w.overflow {
		return
	}
	if w.n >= len(w.buf) {
		w.overflow = true
		return
	}
	w.buf[w.n] = c
	w.n++
}

func (w *fixedWriter) uint(v uint64) {
	var tmp [20]byte
	w.raw(strconv.AppendUint(tmp[:0], v, 10))
}

const hexDigits = "0123456789abcdef"

// jsonString writes s escaped for use inside a JSON string literal. s must be
// valid UTF-8; multi-byte sequences are copied through unchanged.
func (w *fixedWriter) jsonString(s string) {
	for i := 0; i < len(s) && !w.overflow; i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			w.byte('\\')
			w.byte(c)
		case c == '\n':
			w.str(`\n`)
		case c == '\r':
			w.str(`\r`)
		case c == '\t':
			w.str(`\t`)
		case c < 0x20:
			w.str(`\u00`)
			w.byte(hexDigits[c>>4])
			w.byte(hexDigits[c&0xf])
		default:
			w.byte(c)
		}
	}
}

func (w *fixedWriter) bytes() []byte {
	return w.buf[:w.n]
}
