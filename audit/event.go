package audit

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Level is the severity of an audit entry.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
	LevelCritical
	LevelSecurity
)

var levelNames = [...]string{"info", "warning", "error", "critical", "security"}

func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// EventKind discriminates the Event variants.
type EventKind string

const (
	KindKeyGeneration     EventKind = "key_generation"
	KindSignOperation     EventKind = "sign_operation"
	KindMemoryAllocation  EventKind = "memory_allocation"
	KindSecurityViolation EventKind = "security_violation"
	KindSecurityOperation EventKind = "security_operation"
	KindAuthentication    EventKind = "authentication"
	KindConfigChange      EventKind = "config_change"
	KindTEEOperation      EventKind = "tee_operation"
	KindNetworkAccess     EventKind = "network_access"
)

// Event is one of the audit event variants defined in this file. Events must
// never carry key material, seeds or mnemonics.
type Event interface {
	Kind() EventKind
}

type KeyGeneration struct {
	Algorithm   string `json:"algorithm"`
	KeySize     uint32 `json:"key_size"`
	Operation   string `json:"operation"`
	KeyType     string `json:"key_type"`
	DurationMs  uint64 `json:"duration_ms"`
	EntropyBits uint32 `json:"entropy_bits"`
}

// SignOperation records a signature. MessageHash is the hex digest that was
// signed, never the key.
type SignOperation struct {
	MessageHash string `json:"message_hash"`
	Success     bool   `json:"success"`
}

type MemoryAllocation struct {
	Size   int  `json:"size"`
	Secure bool `json:"secure"`
}

type SecurityViolation struct {
	ViolationType string `json:"violation_type"`
	Details       string `json:"details"`
}

type SecurityOperation struct {
	Operation string `json:"operation"`
	Details   string `json:"details"`
	Success   bool   `json:"success"`
	RiskLevel string `json:"risk_level"`
}

type Authentication struct {
	UserID  string `json:"user_id"`
	Success bool   `json:"success"`
	Method  string `json:"method"`
}

type ConfigChange struct {
	Parameter string `json:"parameter"`
	OldValue  string `json:"old_value"`
	NewValue  string `json:"new_value"`
}

type TEEOperation struct {
	Operation  string `json:"operation"`
	DurationMs uint64 `json:"duration_ms"`
	Success    bool   `json:"success"`
}

type NetworkAccess struct {
	Endpoint   string `json:"endpoint"`
	Method     string `json:"method"`
	StatusCode uint16 `json:"status_code"`
}

func (KeyGeneration) Kind() EventKind     { return KindKeyGeneration }
func (SignOperation) Kind() EventKind     { return KindSignOperation }
func (MemoryAllocation) Kind() EventKind  { return KindMemoryAllocation }
func (SecurityViolation) Kind() EventKind { return KindSecurityViolation }
func (SecurityOperation) Kind() EventKind { return KindSecurityOperation }
func (Authentication) Kind() EventKind    { return KindAuthentication }
func (ConfigChange) Kind() EventKind      { return KindConfigChange }
func (TEEOperation) Kind() EventKind      { return KindTEEOperation }
func (NetworkAccess) Kind() EventKind     { return KindNetworkAccess }

// Risk levels used by SecurityOperation events.
const (
	RiskLow    = "LOW"
	RiskMedium = "MEDIUM"
	RiskHigh   = "HIGH"
)

// Entry is an immutable audit record. The With* builders return modified
// copies and leave the receiver untouched.
type Entry struct {
	Timestamp int64
	Level     Level
	Event     Event
	SessionID string
	UserID    string
	Component string
	Metadata  map[string]string
}

// NewEntry stamps an entry with the current wall-clock time in seconds.
func NewEntry(level Level, event Event, component string) Entry {
	return Entry{
		Timestamp: time.Now().Unix(),
		Level:     level,
		Event:     event,
		Component: component,
	}
}

func (e Entry) WithSession(sessionID string) Entry {
	e.SessionID = sessionID
	return e
}

func (e Entry) WithUser(userID string) Entry {
	e.UserID = userID
	return e
}

func (e Entry) WithMetadata(key, value string) Entry {
	md := make(map[string]string, len(e.Metadata)+1)
	maps.Copy(md, e.Metadata)
	md[key] = value
	e.Metadata = md
	return e
}

// IsSecurityRelevant reports whether the entry belongs in security queries:
// Security or Critical level, or a violation, authentication, key generation
// or signing event of any level.
func (e Entry) IsSecurityRelevant() bool {
	if e.Level == LevelSecurity || e.Level == LevelCritical {
		return true
	}
	if e.Event == nil {
		return false
	}
	switch e.Event.Kind() {
	case KindSecurityViolation, KindAuthentication, KindKeyGeneration, KindSignOperation:
		return true
	}
	return false
}

type jsonEvent struct {
	Kind EventKind `json:"kind"`
	Data Event     `json:"data"`
}

type jsonEntry struct {
	Timestamp int64             `json:"timestamp"`
	Level     Level             `json:"level"`
	Event     *jsonEvent        `json:"event"`
	SessionID string            `json:"session_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Component string            `json:"component"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	je := jsonEntry{
		Timestamp: e.Timestamp,
		Level:     e.Level,
		SessionID: e.SessionID,
		UserID:    e.UserID,
		Component: e.Component,
		Metadata:  e.Metadata,
	}
	if e.Event != nil {
		je.Event = &jsonEvent{Kind: e.Event.Kind(), Data: e.Event}
	}
	return json.Marshal(je)
}
