package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JobKind selects which executor runs a job's payload. Fixed at creation.
type JobKind string

const (
	KindCallback JobKind = "callback"
	KindKeyValue JobKind = "keyvalue"
	KindPublish  JobKind = "publish"
)

func (k JobKind) String() string {
	return string(k)
}

func (k JobKind) Valid() bool {
	switch k {
	case KindCallback, KindKeyValue, KindPublish:
		return true
	}
	return false
}

var AllKinds = []JobKind{KindCallback, KindKeyValue, KindPublish}

// ParseJobKind maps an external identifier (URL segment, config value) to a
// JobKind.
func ParseJobKind(s string) (JobKind, error) {
	k := JobKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown job kind: %q", s)
	}
	return k, nil
}

// JobDefinition is the durable description of a schedulable unit of work.
// ID and Kind are immutable after creation.
type JobDefinition struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Kind       JobKind         `json:"kind"`
	Expression string          `json:"expression"`
	Payload    json.RawMessage `json:"payload"`
	Enabled    bool            `json:"enabled"`
	Ignored    bool            `json:"ignored"`
	NextRunAt  time.Time       `json:"next_run_at"`
	ClaimedBy  *string         `json:"claimed_by,omitempty"`
	ClaimedAt  *time.Time      `json:"claimed_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Schedulable reports whether the scheduler may ever pick this job up.
func (j *JobDefinition) Schedulable() bool {
	return j.Enabled && !j.Ignored
}

// CallbackPayload targets an outbound HTTP request.
type CallbackPayload struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

func (p *CallbackPayload) Validate() error {
	if strings.TrimSpace(p.URL) == "" {
		return fmt.Errorf("callback payload: url is required")
	}
	if !strings.HasPrefix(p.URL, "http://") && !strings.HasPrefix(p.URL, "https://") {
		return fmt.Errorf("callback payload: url must be http or https")
	}
	return nil
}

// KeyValueCommands lists the commands the key-value executor accepts.
var KeyValueCommands = map[string]bool{
	"set":    true,
	"del":    true,
	"incr":   true,
	"decr":   true,
	"expire": true,
	"lpush":  true,
	"rpush":  true,
}

// KeyValuePayload issues a single command against the key-value backend.
type KeyValuePayload struct {
	Key     string `json:"key"`
	Command string `json:"command"`
	Value   string `json:"value,omitempty"`
}

func (p *KeyValuePayload) Validate() error {
	if strings.TrimSpace(p.Key) == "" {
		return fmt.Errorf("keyvalue payload: key is required")
	}
	cmd := strings.ToLower(strings.TrimSpace(p.Command))
	if !KeyValueCommands[cmd] {
		return fmt.Errorf("keyvalue payload: unsupported command %q", p.Command)
	}
	return nil
}

// PublishPayload publishes a message to a topic on the message broker.
type PublishPayload struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

func (p *PublishPayload) Validate() error {
	if strings.TrimSpace(p.Topic) == "" {
		return fmt.Errorf("publish payload: topic is required")
	}
	if p.Message == "" {
		return fmt.Errorf("publish payload: message is required")
	}
	return nil
}

// ValidatePayload checks that raw decodes to the payload shape bound to the
// kind. Payload shape is enforced here, at write time, never at dispatch.
func ValidatePayload(kind JobKind, raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("payload is required")
	}

	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()

	switch kind {
	case KindCallback:
		var p CallbackPayload
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("callback payload: %w", err)
		}
		return p.Validate()
	case KindKeyValue:
		var p KeyValuePayload
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("keyvalue payload: %w", err)
		}
		return p.Validate()
	case KindPublish:
		var p PublishPayload
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("publish payload: %w", err)
		}
		return p.Validate()
	default:
		return fmt.Errorf("unknown job kind: %q", kind)
	}
}
