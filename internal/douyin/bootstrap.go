package douyin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chen-zeong/dtv/internal/message"
	"github.com/chen-zeong/dtv/internal/session"
	"github.com/chen-zeong/dtv/internal/signature"
)

const (
	defaultSiteURL = "https://live.douyin.com"

	// Room ids are long numbers; web rids are short.
	minRoomIDLength = 17
)

// enterResponse is the part of webcast/room/web/enter we read.
type enterResponse struct {
	StatusCode int `json:"status_code"`
	Data       struct {
		Data []struct {
			IDStr  string `json:"id_str"`
			Status int    `json:"status"`
			Title  string `json:"title"`
		} `json:"data"`
		EnterRoomID string `json:"enter_room_id"`
		User        struct {
			Nickname string `json:"nickname"`
		} `json:"user"`
	} `json:"data"`
}

func (r *enterResponse) roomID() string {
	for _, d := range r.Data.Data {
		if d.IDStr != "" {
			return d.IDStr
		}
	}
	return r.Data.EnterRoomID
}

// Bootstrapper resolves a douyin web rid into the numeric room id and
// collects the anonymous visitor cookies the push socket checks.
type Bootstrapper struct {
	Client    *http.Client
	UserAgent string
	// Cookie is a configured Cookie header merged ahead of the harvested
	// cookies.
	Cookie  string
	SiteURL string
	Logger  *zap.Logger
}

var _ session.Bootstrapper = (*Bootstrapper)(nil)

// ResolveRoom harvests cookies first since the enter API wants msToken and a
// user_unique_id, then looks the room up.
func (b *Bootstrapper) ResolveRoom(ctx context.Context, roomID string) (*session.RoomSession, error) {
	webRID := ExtractWebRID(roomID)
	if webRID == "" {
		return nil, errors.Wrap(session.ErrRoomNotFound, "empty douyin room id")
	}
	s := &session.RoomSession{
		Platform:  message.Douyin,
		RoomID:    webRID,
		UserAgent: b.userAgent(),
	}
	if err := b.HarvestCookies(ctx, s); err != nil {
		return nil, err
	}

	if isDigits(webRID) && len(webRID) >= minRoomIDLength {
		s.SetToken(TokenRoomID, webRID)
		return s, nil
	}
	id, err := b.enter(ctx, s, webRID)
	if err != nil {
		return nil, err
	}
	s.SetToken(TokenRoomID, id)
	return s, nil
}

// HarvestCookies fills the session cookies once. Later calls leave a
// populated session alone.
func (b *Bootstrapper) HarvestCookies(ctx context.Context, s *session.RoomSession) error {
	if s.Cookies != "" && s.Token(TokenUserUniqueID) != "" {
		return nil
	}
	h := &signature.CookieHarvester{
		Client:    b.client(),
		UserAgent: b.userAgent(),
		Referer:   b.siteURL(),
		AllowList: signature.DouyinCookieNames,
	}
	jar := signature.ParseCookies(b.Cookie)
	harvested, err := h.Harvest(ctx, b.siteURL()+"/")
	if err != nil {
		if jar.Len() == 0 {
			return errors.Wrap(err, "harvest douyin cookies")
		}
		b.logger().Warn("Douyin cookie harvest failed, using configured cookie only", zap.Error(err))
	} else {
		jar.Merge(harvested)
	}

	s.Cookies = jar.Header()
	if ttwid, ok := jar.Get("ttwid"); ok {
		s.SetToken(TokenTTWID, ttwid)
	}
	s.SetToken(TokenUserUniqueID, h.DeviceID(jar))
	return nil
}

func (b *Bootstrapper) enter(ctx context.Context, s *session.RoomSession, webRID string) (string, error) {
	q := url.Values{}
	q.Set("aid", "6383")
	q.Set("app_name", "douyin_web")
	q.Set("live_id", "1")
	q.Set("device_platform", "web")
	q.Set("language", "zh-CN")
	q.Set("enter_from", "web_live")
	q.Set("cookie_enabled", "true")
	q.Set("screen_width", "1920")
	q.Set("screen_height", "1080")
	q.Set("browser_language", "zh-CN")
	q.Set("browser_platform", "Win32")
	q.Set("browser_name", "Chrome")
	q.Set("browser_version", "141.0.0.0")
	q.Set("web_rid", webRID)
	q.Set("user_unique_id", s.Token(TokenUserUniqueID))
	if tok, ok := signature.ParseCookies(s.Cookies).Get("msToken"); ok {
		q.Set("msToken", tok)
	}
	query := q.Encode()
	query += "&a_bogus=" + url.QueryEscape(signature.NewABogus(s.UserAgent).Sign(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.siteURL()+"/webcast/room/web/enter/?"+query, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9")
	req.Header.Set("Referer", b.siteURL()+"/"+webRID)
	req.Header.Set("User-Agent", s.UserAgent)
	if s.Cookies != "" {
		req.Header.Set("Cookie", s.Cookies)
	}

	resp, err := b.client().Do(req)
	if err != nil {
		return "", errors.Wrap(err, "douyin enter")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("douyin enter: unexpected status %d", resp.StatusCode)
	}
	var body enterResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.Wrap(err, "decode douyin enter response")
	}
	id := body.roomID()
	if id == "" {
		return "", errors.Wrapf(session.ErrRoomNotFound, "douyin web rid %s (status_code %d)", webRID, body.StatusCode)
	}
	return id, nil
}

// ExtractWebRID accepts a bare web rid or a live.douyin.com URL.
func ExtractWebRID(idOrURL string) string {
	idOrURL = strings.TrimSpace(idOrURL)
	_, rest, ok := strings.Cut(idOrURL, "live.douyin.com/")
	if !ok {
		return idOrURL
	}
	segs := strings.FieldsFunc(rest, func(r rune) bool { return r == '?' || r == '&' || r == '/' })
	if len(segs) == 0 {
		return idOrURL
	}
	return segs[0]
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func (b *Bootstrapper) client() *http.Client {
	if b.Client != nil {
		return b.Client
	}
	return session.HTTPClient(0)
}

func (b *Bootstrapper) userAgent() string {
	if b.UserAgent != "" {
		return b.UserAgent
	}
	return session.DefaultUserAgent
}

func (b *Bootstrapper) siteURL() string {
	if b.SiteURL != "" {
		return strings.TrimRight(b.SiteURL, "/")
	}
	return defaultSiteURL
}

func (b *Bootstrapper) logger() *zap.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return zap.NewNop()
}
