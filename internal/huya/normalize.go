package huya

import (
	"strconv"
	"time"

	"github.com/chen-zeong/dtv/internal/message"
)

// ToEvent converts a chat push. ok is false for empty text.
func ToEvent(roomID string, m ChatMessage, at time.Time) (*message.ChatEvent, bool) {
	userID := ""
	if m.Sender.UID > 0 {
		userID = strconv.FormatInt(m.Sender.UID, 10)
	}
	return message.NewChat(message.Huya, roomID, message.Chat{
		Author: m.Sender.Name,
		Text:   m.Text,
		Color:  message.ColorFromInt(m.Color),
		UserID: userID,
	}, at)
}
