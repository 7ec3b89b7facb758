package message

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Platform identifies a live-streaming site.
type Platform string

const (
	Douyu    Platform = "douyu"
	Huya     Platform = "huya"
	Douyin   Platform = "douyin"
	Bilibili Platform = "bilibili"
)

// Platforms lists every supported platform.
var Platforms = []Platform{Douyu, Huya, Douyin, Bilibili}

// ErrUnknownPlatform is returned by ParsePlatform.
var ErrUnknownPlatform = errors.New("unknown platform")

// ParsePlatform validates a platform name, case-insensitively.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Platforms {
		if p == known {
			return p, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownPlatform, "%q", s)
}

// Anonymous is the author shown when a platform sends no nickname.
const Anonymous = "anonymous"

// DefaultColor is used when a platform sends no color or a non-positive one.
const DefaultColor = "ffffff"

const (
	KindChat     = "chat"
	KindPresence = "presence"
)

// Event is anything delivered to the event sink.
type Event interface {
	Kind() string
	Source() (Platform, string)
}

// ChatEvent represents one chat line from any platform
type ChatEvent struct {
	Type       string   `json:"type"`                  // Always "chat"
	Platform   Platform `json:"platform"`              // Platform name: "douyu", "huya", etc.
	RoomID     string   `json:"room_id"`               // Room the listener was started for
	Author     string   `json:"author"`                // Display name, "anonymous" when absent
	Text       string   `json:"text"`                  // Message content, never empty
	Color      string   `json:"color"`                 // Six lowercase hex digits
	Level      int      `json:"level"`                 // Platform user level
	BadgeName  string   `json:"badge_name,omitempty"`  // Fan badge / medal name
	BadgeLevel int      `json:"badge_level,omitempty"` // Fan badge level
	UserID     string   `json:"user_id,omitempty"`     // Platform-specific user ID
	Timestamp  string   `json:"timestamp"`             // Receive time in RFC3339 format (UTC)
}

// Kind implements Event.
func (e *ChatEvent) Kind() string { return KindChat }

// Source implements Event.
func (e *ChatEvent) Source() (Platform, string) { return e.Platform, e.RoomID }

// PresenceEvent reports a user entering a room.
type PresenceEvent struct {
	Type       string   `json:"type"` // Always "presence"
	Platform   Platform `json:"platform"`
	RoomID     string   `json:"room_id"`
	UserID     string   `json:"user_id,omitempty"`
	Author     string   `json:"author"`
	Level      int      `json:"level"`
	BadgeName  string   `json:"badge_name,omitempty"`
	BadgeLevel int      `json:"badge_level,omitempty"`
	Timestamp  string   `json:"timestamp"`
}

// Kind implements Event.
func (e *PresenceEvent) Kind() string { return KindPresence }

// Source implements Event.
func (e *PresenceEvent) Source() (Platform, string) { return e.Platform, e.RoomID }

// Chat carries the decoded fields a normalizer hands to NewChat.
type Chat struct {
	Author     string
	Text       string
	Color      string
	Level      int
	BadgeName  string
	BadgeLevel int
	UserID     string
}

// NewChat builds a ChatEvent. It reports false when the text is empty or
// not valid UTF-8. Invalid bytes in the other string fields are dropped.
func NewChat(p Platform, roomID string, c Chat, at time.Time) (*ChatEvent, bool) {
	if c.Text == "" || !utf8.ValidString(c.Text) {
		return nil, false
	}
	color := c.Color
	if color == "" {
		color = DefaultColor
	}
	return &ChatEvent{
		Type:       KindChat,
		Platform:   p,
		RoomID:     roomID,
		Author:     authorOrAnonymous(c.Author),
		Text:       c.Text,
		Color:      color,
		Level:      c.Level,
		BadgeName:  strings.ToValidUTF8(c.BadgeName, ""),
		BadgeLevel: c.BadgeLevel,
		UserID:     strings.ToValidUTF8(c.UserID, ""),
		Timestamp:  at.UTC().Format(time.RFC3339),
	}, true
}

// NewPresence builds a PresenceEvent.
func NewPresence(p Platform, roomID, userID, author string, level int, badgeName string, badgeLevel int, at time.Time) *PresenceEvent {
	return &PresenceEvent{
		Type:       KindPresence,
		Platform:   p,
		RoomID:     roomID,
		UserID:     strings.ToValidUTF8(userID, ""),
		Author:     authorOrAnonymous(author),
		Level:      level,
		BadgeName:  strings.ToValidUTF8(badgeName, ""),
		BadgeLevel: badgeLevel,
		Timestamp:  at.UTC().Format(time.RFC3339),
	}
}

// ColorFromInt renders an RGB integer as six lowercase hex digits.
func ColorFromInt(v int64) string {
	if v <= 0 {
		return DefaultColor
	}
	return fmt.Sprintf("%06x", v&0xffffff)
}

func authorOrAnonymous(s string) string {
	s = strings.ToValidUTF8(s, "")
	if strings.TrimSpace(s) == "" {
		return Anonymous
	}
	return s
}
