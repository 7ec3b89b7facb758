package douyu

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/chen-zeong/dtv/internal/message"
	"github.com/chen-zeong/dtv/internal/session"
)

const defaultBetardURL = "https://www.douyu.com/betard/"

type betardRoom struct {
	RoomID     json.Number `json:"room_id"`
	RoomName   string      `json:"room_name"`
	Nickname   string      `json:"nickname"`
	ShowStatus int         `json:"show_status"`
}

// betardResponse covers both shapes the endpoint has been seen to return:
// the room at the top level or below "data".
type betardResponse struct {
	Room betardRoom `json:"room"`
	Data struct {
		Room betardRoom `json:"room"`
	} `json:"data"`
}

func (r *betardResponse) room() betardRoom {
	if r.Data.Room.RoomID != "" {
		return r.Data.Room
	}
	return r.Room
}

// Bootstrapper maps a douyu room id or vanity alias to the numeric room id
// the socket login expects. Douyu needs no cookies.
type Bootstrapper struct {
	Client    *http.Client
	UserAgent string
	BetardURL string
}

var _ session.Bootstrapper = (*Bootstrapper)(nil)

func (b *Bootstrapper) ResolveRoom(ctx context.Context, roomID string) (*session.RoomSession, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, errors.Wrap(session.ErrRoomNotFound, "empty douyu room id")
	}
	ua := b.UserAgent
	if ua == "" {
		ua = session.DefaultUserAgent
	}

	base := b.BetardURL
	if base == "" {
		base = defaultBetardURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+url.PathEscape(roomID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Referer", "https://www.douyu.com/"+roomID)
	req.Header.Set("User-Agent", ua)

	client := b.Client
	if client == nil {
		client = session.HTTPClient(0)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch douyu room info")
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, session.ErrRoomNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("douyu room info: unexpected status %d", resp.StatusCode)
	}

	var body betardResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decode douyu room info")
	}

	s := &session.RoomSession{
		Platform:  message.Douyu,
		RoomID:    roomID,
		Endpoint:  Endpoint,
		UserAgent: ua,
	}
	rid := body.room().RoomID.String()
	if rid == "" {
		rid = roomID
	}
	s.SetToken(TokenRoomID, rid)
	return s, nil
}

func (b *Bootstrapper) HarvestCookies(context.Context, *session.RoomSession) error { return nil }
