package douyu

import (
	"strconv"
	"time"

	"github.com/chen-zeong/dtv/internal/message"
)

const (
	typeChat  = "chatmsg"
	typeEnter = "uenter"
)

// palette maps the "col" index of a chat message to its web client color.
var palette = map[string]string{
	"1": "ff0000",
	"2": "1e87f0",
	"3": "7ac84b",
	"4": "ff7f00",
	"5": "9b39f4",
	"6": "ff69b4",
}

// ToEvent converts chatmsg and uenter messages. Every other type, and chat
// lines without text, yield ok == false.
func ToEvent(roomID string, m *Message, at time.Time) (message.Event, bool) {
	switch m.Type() {
	case typeChat:
		ev, ok := message.NewChat(message.Douyu, roomID, message.Chat{
			Author:     m.Get("nn"),
			Text:       m.Get("txt"),
			Color:      palette[m.Get("col")],
			Level:      atoi(m.Get("level")),
			BadgeName:  m.Get("bnn"),
			BadgeLevel: atoi(m.Get("bl")),
			UserID:     m.Get("uid"),
		}, at)
		if !ok {
			return nil, false
		}
		return ev, true
	case typeEnter:
		return message.NewPresence(message.Douyu, roomID,
			m.Get("uid"), m.Get("nn"), atoi(m.Get("level")),
			m.Get("bnn"), atoi(m.Get("bl")), at), true
	}
	return nil, false
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
