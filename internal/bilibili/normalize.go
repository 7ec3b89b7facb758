package bilibili

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/chen-zeong/dtv/internal/message"
)

const (
	cmdDanmaku  = "DANMU_MSG"
	cmdInteract = "INTERACT_WORD" // entries, follows and shares
)

type envelope struct {
	Cmd  string `json:"cmd"`
	Info []any  `json:"info"`
}

// ChatMessage is the useful part of a DANMU_MSG info array.
type ChatMessage struct {
	UID        int64
	Name       string
	Text       string
	Color      int64
	Level      int
	MedalName  string
	MedalLevel int
}

// Command returns the cmd of an op 5 body without its ":"-separated
// suffixes, so "DANMU_MSG:4:0:2:2:2:0" reads as DANMU_MSG.
func Command(cmd string) string {
	cmd = strings.ToUpper(strings.TrimSpace(cmd))
	if i := strings.IndexByte(cmd, ':'); i > 0 {
		cmd = cmd[:i]
	}
	return cmd
}

func decodeEnvelope(body []byte) (*envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, errors.Wrap(err, "decode command")
	}
	return &env, nil
}

// DecodeChat reads the info array of a DANMU_MSG command:
//
//	info[0][3]  color
//	info[1]     text
//	info[2][0]  uid
//	info[2][1]  name
//	info[3][0]  medal level
//	info[3][1]  medal name
//	info[4][0]  user level
func DecodeChat(info []any) (*ChatMessage, error) {
	if len(info) < 3 {
		return nil, errors.Wrapf(ErrMalformed, "danmaku info has %d entries", len(info))
	}
	return &ChatMessage{
		UID:        toInt(index(info, 2, 0)),
		Name:       toString(index(info, 2, 1)),
		Text:       toString(index(info, 1)),
		Color:      toInt(index(info, 0, 3)),
		Level:      int(toInt(index(info, 4, 0))),
		MedalLevel: int(toInt(index(info, 3, 0))),
		MedalName:  toString(index(info, 3, 1)),
	}, nil
}

// ToEvent turns an op 5 body into an event. Only DANMU_MSG yields one.
// INTERACT_WORD entries are recognised and dropped with the other commands.
// A body that is not valid UTF-8 is malformed.
func ToEvent(roomID string, body []byte, at time.Time) (message.Event, bool, error) {
	if !utf8.Valid(body) {
		return nil, false, errors.Wrap(ErrMalformed, "body is not valid UTF-8")
	}
	env, err := decodeEnvelope(body)
	if err != nil {
		return nil, false, err
	}
	switch Command(env.Cmd) {
	case cmdDanmaku:
		chat, err := DecodeChat(env.Info)
		if err != nil {
			return nil, false, err
		}
		ev, ok := message.NewChat(message.Bilibili, roomID, message.Chat{
			Author:     chat.Name,
			Text:       chat.Text,
			Color:      message.ColorFromInt(chat.Color),
			Level:      chat.Level,
			BadgeName:  chat.MedalName,
			BadgeLevel: chat.MedalLevel,
			UserID:     userID(chat.UID),
		}, at)
		if !ok {
			return nil, false, nil
		}
		return ev, true, nil
	case cmdInteract:
		return nil, false, nil
	}
	return nil, false, nil
}

func userID(uid int64) string {
	if uid <= 0 {
		return ""
	}
	return strconv.FormatInt(uid, 10)
}

// index walks nested JSON arrays, returning nil when a step is missing.
func index(v any, path ...int) any {
	for _, i := range path {
		arr, ok := v.([]any)
		if !ok || i < 0 || i >= len(arr) {
			return nil
		}
		v = arr[i]
	}
	return v
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return int64(f)
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i
		}
	}
	return 0
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	}
	return ""
}
