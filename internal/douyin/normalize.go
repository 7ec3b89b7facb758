package douyin

import (
	"strconv"
	"time"

	"github.com/chen-zeong/dtv/internal/message"
)

// ToEvent converts a decoded chat message. Douyin sends no usable color.
func ToEvent(roomID string, c *ChatMessage, at time.Time) (*message.ChatEvent, bool) {
	userID := ""
	if c.User.ID != 0 {
		userID = strconv.FormatUint(c.User.ID, 10)
	}
	return message.NewChat(message.Douyin, roomID, message.Chat{
		Author:     c.User.Nickname,
		Text:       c.Content,
		Level:      c.User.PayLevel,
		BadgeName:  c.User.FansClubName,
		BadgeLevel: c.User.FansClubLevel,
		UserID:     userID,
	}, at)
}
