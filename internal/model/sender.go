package model

import (
	"database/sql/driver"
	"fmt"
)

// SenderType is a closed variant: User, Supporter or System. The zero value
// is invalid so an unset sender never reaches storage.
type SenderType uint8

const (
	SenderUser SenderType = iota + 1
	SenderSupporter
	SenderSystem
)

func ParseSenderType(s string) (SenderType, error) {
	switch s {
	case "user":
		return SenderUser, nil
	case "supporter":
		return SenderSupporter, nil
	case "system":
		return SenderSystem, nil
	}
	return 0, fmt.Errorf("unknown sender type %q", s)
}

func (t SenderType) String() string {
	switch t {
	case SenderUser:
		return "user"
	case SenderSupporter:
		return "supporter"
	case SenderSystem:
		return "system"
	}
	return fmt.Sprintf("SenderType(%d)", uint8(t))
}

func (t SenderType) Valid() bool {
	return t >= SenderUser && t <= SenderSystem
}

func (t SenderType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid sender type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *SenderType) UnmarshalText(b []byte) error {
	parsed, err := ParseSenderType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Value хранит вариант строкой, чтобы колонка sender_type оставалась читаемой.
func (t SenderType) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid sender type %d", uint8(t))
	}
	return t.String(), nil
}

func (t *SenderType) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return t.UnmarshalText([]byte(v))
	case []byte:
		return t.UnmarshalText(v)
	}
	return fmt.Errorf("cannot scan %T into SenderType", src)
}

// Role is the side of a session a live connection speaks for.
type Role string

const (
	RoleUser      Role = "user"
	RoleSupporter Role = "supporter"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleSupporter
}

// Peer returns the counterpart role.
func (r Role) Peer() Role {
	if r == RoleUser {
		return RoleSupporter
	}
	return RoleUser
}

// SenderType maps the connection role onto the message sender variant.
func (r Role) SenderType() SenderType {
	if r == RoleSupporter {
		return SenderSupporter
	}
	return SenderUser
}
