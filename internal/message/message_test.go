package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CST", 8*3600))

func TestNewChatDefaults(t *testing.T) {
	ev, ok := NewChat(Huya, "11342412", Chat{Text: "hello"}, testTime)
	require.True(t, ok)
	assert.Equal(t, KindChat, ev.Type)
	assert.Equal(t, Anonymous, ev.Author)
	assert.Equal(t, DefaultColor, ev.Color)
	assert.Equal(t, 0, ev.Level)
	assert.Equal(t, "2024-05-01T04:00:00Z", ev.Timestamp)

	p, room := ev.Source()
	assert.Equal(t, Huya, p)
	assert.Equal(t, "11342412", room)
}

func TestNewChatEmptyText(t *testing.T) {
	ev, ok := NewChat(Douyu, "1", Chat{Author: "a"}, testTime)
	assert.False(t, ok)
	assert.Nil(t, ev)
}

func TestNewChatRejectsInvalidUTF8(t *testing.T) {
	for name, text := range map[string]string{
		"leading bytes":    "\xff\xfehi",
		"truncated rune":   "\xc3(bad",
		"lone surrogate":   "ok\xed\xa0\x80",
		"trailing garbage": "hello\x80",
	} {
		t.Run(name, func(t *testing.T) {
			ev, ok := NewChat(Huya, "1", Chat{Author: "a", Text: text}, testTime)
			assert.False(t, ok)
			assert.Nil(t, ev)
		})
	}
}

func TestNewChatCleansInvalidAuthor(t *testing.T) {
	ev, ok := NewChat(Douyin, "1", Chat{Author: "\xff\xfe", Text: "hi", BadgeName: "fa\xffns"}, testTime)
	require.True(t, ok)
	assert.Equal(t, Anonymous, ev.Author)
	assert.Equal(t, "fans", ev.BadgeName)

	ev, ok = NewChat(Douyin, "1", Chat{Author: "vi\xc3ewer", Text: "hi"}, testTime)
	require.True(t, ok)
	assert.Equal(t, "viewer", ev.Author)
}

func TestColorFromInt(t *testing.T) {
	assert.Equal(t, "00ff00", ColorFromInt(65280))
	assert.Equal(t, "ffffff", ColorFromInt(0))
	assert.Equal(t, "ffffff", ColorFromInt(-5))
	assert.Equal(t, "ffffff", ColorFromInt(16777215))
	assert.Equal(t, "000001", ColorFromInt(1))
	assert.Equal(t, "123456", ColorFromInt(0x7f123456))
}

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform(" Douyin ")
	require.NoError(t, err)
	assert.Equal(t, Douyin, p)

	_, err = ParsePlatform("twitch")
	assert.True(t, errors.Is(err, ErrUnknownPlatform))
}

func TestPresenceJSON(t *testing.T) {
	ev := NewPresence(Douyu, "9999", "42", "", 12, "fans", 3, testTime)
	b, err := json.Marshal(ev)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "presence", got["type"])
	assert.Equal(t, "anonymous", got["author"])
	assert.Equal(t, "douyu", got["platform"])
	assert.Equal(t, float64(3), got["badge_level"])
}
