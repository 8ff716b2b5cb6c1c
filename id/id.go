// Package id defines the identifiers used to address a voice session.
//
// Platform snowflakes are non-zero 64-bit integers. The zero value of each
// type is reserved to mean "unset" and is rejected by the parsers.
package id

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrZeroID indicates a zero snowflake, which the platform never issues.
var ErrZeroID = errors.New("id cannot be zero")

// GuildID identifies the server a voice channel belongs to.
type GuildID uint64

// ChannelID identifies a voice channel.
type ChannelID uint64

// UserID identifies the account the driver acts on behalf of.
type UserID uint64

func (g GuildID) String() string   { return strconv.FormatUint(uint64(g), 10) }
func (c ChannelID) String() string { return strconv.FormatUint(uint64(c), 10) }
func (u UserID) String() string    { return strconv.FormatUint(uint64(u), 10) }

// IsZero reports whether the id is unset.
func (g GuildID) IsZero() bool { return g == 0 }

// IsZero reports whether the id is unset.
func (c ChannelID) IsZero() bool { return c == 0 }

// IsZero reports whether the id is unset.
func (u UserID) IsZero() bool { return u == 0 }

// ParseGuildID parses a decimal snowflake.
func ParseGuildID(s string) (GuildID, error) {
	v, err := parse(s)
	return GuildID(v), err
}

// ParseChannelID parses a decimal snowflake.
func ParseChannelID(s string) (ChannelID, error) {
	v, err := parse(s)
	return ChannelID(v), err
}

// ParseUserID parses a decimal snowflake.
func ParseUserID(s string) (UserID, error) {
	v, err := parse(s)
	return UserID(v), err
}

func parse(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid snowflake %q: %w", s, err)
	}
	if v == 0 {
		return 0, ErrZeroID
	}
	return v, nil
}
