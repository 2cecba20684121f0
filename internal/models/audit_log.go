package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// TOTPEvent identifies the kind of 2FA change being audited. Values are stable
// because audit sinks may persist them.
type TOTPEvent int

const (
	EventShowQR TOTPEvent = iota + 1
	EventEnable
	EventDisable
	EventReset
	EventClearTrusted
	EventDisableByAdmin
	EventResetByAdmin
	EventClearTrustedByAdmin
)

var totpEventNames = map[TOTPEvent]string{
	EventShowQR:              "show_qr",
	EventEnable:              "enable",
	EventDisable:             "disable",
	EventReset:               "reset",
	EventClearTrusted:        "clear_trusted",
	EventDisableByAdmin:      "disable_by_admin",
	EventResetByAdmin:        "reset_by_admin",
	EventClearTrustedByAdmin: "clear_trusted_by_admin",
}

func (e TOTPEvent) String() string {
	if name, ok := totpEventNames[e]; ok {
		return name
	}
	return "unknown"
}

// ByAdmin reports whether the event was triggered by an administrator
func (e TOTPEvent) ByAdmin() bool {
	return e == EventDisableByAdmin || e == EventResetByAdmin || e == EventClearTrustedByAdmin
}

// AuditLog is one persisted 2FA audit row
type AuditLog struct {
	ID        int64         `db:"id"`
	EventType TOTPEvent     `db:"event_type"`
	Event     string        `db:"event"`
	UserID    int64         `db:"user_id"`
	Message   string        `db:"message"`
	Metadata  AuditMetadata `db:"metadata"`
	CreatedAt time.Time     `db:"created_at"`
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(am))
}
