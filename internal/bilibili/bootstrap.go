package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chen-zeong/dtv/internal/message"
	"github.com/chen-zeong/dtv/internal/session"
	"github.com/chen-zeong/dtv/internal/signature"
)

const (
	defaultRoomInitURL  = "https://api.live.bilibili.com/room/v1/Room/room_init"
	defaultNavURL       = "https://api.bilibili.com/x/web-interface/nav"
	defaultDanmuInfoURL = "https://api.live.bilibili.com/xlive/web-room/v1/index/getDanmuInfo"
	defaultSiteURL      = "https://www.bilibili.com/"

	wbiKeyTTL = 6 * time.Hour
)

// cookieNames are the visitor cookies worth keeping from the home page.
var cookieNames = []string{"buvid3", "buvid4", "b_nut"}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type roomInit struct {
	RoomID json.Number `json:"room_id"`
}

type navData struct {
	WBIImg struct {
		ImgURL string `json:"img_url"`
		SubURL string `json:"sub_url"`
	} `json:"wbi_img"`
}

type danmuInfo struct {
	Token    string `json:"token"`
	HostList []struct {
		Host    string `json:"host"`
		Port    int    `json:"port"`
		WSSPort int    `json:"wss_port"`
	} `json:"host_list"`
}

// Bootstrapper resolves a bilibili room id (short or long) into the real
// room id, the danmaku auth token and a socket host, and collects the
// buvid3 visitor cookie.
type Bootstrapper struct {
	Client    *http.Client
	UserAgent string
	// Cookie is a configured Cookie header. A logged-in DedeUserID in it
	// becomes the auth uid.
	Cookie       string
	RoomInitURL  string
	NavURL       string
	DanmuInfoURL string
	SiteURL      string
	Logger       *zap.Logger
	Now          func() time.Time

	mu        sync.Mutex
	wbi       signature.WBI
	wbiExpiry time.Time
}

var _ session.Bootstrapper = (*Bootstrapper)(nil)

// ResolveRoom looks up the real room id, then fetches the danmaku token.
// getDanmuInfo is signed with WBI and wants the visitor cookies, so cookies
// are harvested first.
func (b *Bootstrapper) ResolveRoom(ctx context.Context, roomID string) (*session.RoomSession, error) {
	id := ExtractRoomID(roomID)
	if id == "" {
		return nil, errors.Wrap(session.ErrRoomNotFound, "empty bilibili room id")
	}
	s := &session.RoomSession{
		Platform:  message.Bilibili,
		RoomID:    id,
		UserAgent: b.userAgent(),
	}
	if err := b.HarvestCookies(ctx, s); err != nil {
		return nil, err
	}

	realID, err := b.roomInit(ctx, s, id)
	if err != nil {
		return nil, err
	}
	s.SetToken(TokenRoomID, realID)

	info, err := b.danmuInfo(ctx, s, realID)
	if err != nil {
		return nil, err
	}
	s.SetToken(TokenKey, info.Token)
	for _, h := range info.HostList {
		if h.Host == "" {
			continue
		}
		port := h.WSSPort
		if port <= 0 {
			port = 443
		}
		s.Endpoint = fmt.Sprintf("wss://%s:%d/sub", h.Host, port)
		break
	}
	if s.Endpoint == "" {
		s.Endpoint = Endpoint
	}
	return s, nil
}

// HarvestCookies fills buvid3 once. The configured cookie wins over harvested
// values of the same pair.
func (b *Bootstrapper) HarvestCookies(ctx context.Context, s *session.RoomSession) error {
	if s.Token(TokenBuvid) != "" {
		return nil
	}
	jar := signature.ParseCookies(b.Cookie)
	h := &signature.CookieHarvester{
		Client:    b.client(),
		UserAgent: b.userAgent(),
		Referer:   origin + "/",
		AllowList: cookieNames,
	}
	harvested, err := h.Harvest(ctx, b.siteURL())
	if err != nil {
		if jar.Len() == 0 {
			return errors.Wrap(err, "harvest bilibili cookies")
		}
		b.logger().Warn("Bilibili cookie harvest failed, using configured cookie only", zap.Error(err))
	} else {
		jar.Merge(harvested)
	}

	s.Cookies = jar.Header()
	buvid, ok := jar.Get("buvid3")
	if !ok {
		b.logger().Warn("No buvid3 cookie, connecting without it", zap.String("room_id", s.RoomID))
	}
	s.SetToken(TokenBuvid, buvid)
	uid := "0"
	if v, ok := jar.Get("DedeUserID"); ok && v != "" {
		uid = v
	}
	s.SetToken(TokenUID, uid)
	return nil
}

func (b *Bootstrapper) roomInit(ctx context.Context, s *session.RoomSession, id string) (string, error) {
	q := url.Values{}
	q.Set("id", id)
	var data roomInit
	code, err := b.getJSON(ctx, s, b.roomInitURL()+"?"+q.Encode(), &data)
	if err != nil {
		return "", errors.Wrap(err, "bilibili room_init")
	}
	if code != 0 || data.RoomID.String() == "" || data.RoomID.String() == "0" {
		return "", errors.Wrapf(session.ErrRoomNotFound, "bilibili room %s (code %d)", id, code)
	}
	return data.RoomID.String(), nil
}

func (b *Bootstrapper) danmuInfo(ctx context.Context, s *session.RoomSession, realID string) (*danmuInfo, error) {
	q := url.Values{}
	q.Set("id", realID)
	q.Set("type", "0")
	q.Set("web_location", "444.8")
	signer, err := b.signer(ctx, s)
	if err != nil {
		return nil, err
	}
	if q, err = signer.Sign(q); err != nil {
		return nil, errors.Wrap(err, "sign getDanmuInfo")
	}

	var info danmuInfo
	code, err := b.getJSON(ctx, s, b.danmuInfoURL()+"?"+q.Encode(), &info)
	if err != nil {
		return nil, errors.Wrap(err, "bilibili getDanmuInfo")
	}
	if code != 0 {
		return nil, errors.Errorf("bilibili getDanmuInfo: code %d", code)
	}
	if info.Token == "" {
		return nil, errors.Wrap(signature.ErrMissingField, "bilibili getDanmuInfo token")
	}
	return &info, nil
}

// signer returns a WBI signer, refreshing the nav keys every few hours.
func (b *Bootstrapper) signer(ctx context.Context, s *session.RoomSession) (*signature.WBI, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if b.wbi.ImgKey != "" && now.Before(b.wbiExpiry) {
		w := b.wbi
		return &w, nil
	}

	var nav navData
	// nav answers -101 to visitors but still carries the keys.
	if _, err := b.getJSON(ctx, s, b.navURL(), &nav); err != nil {
		return nil, errors.Wrap(err, "bilibili nav")
	}
	w := signature.WBI{
		ImgKey: signature.KeyFromURL(nav.WBIImg.ImgURL),
		SubKey: signature.KeyFromURL(nav.WBIImg.SubURL),
		Now:    b.Now,
	}
	if w.ImgKey == "" || w.SubKey == "" {
		return nil, errors.Wrap(signature.ErrMissingField, "bilibili nav wbi keys")
	}
	b.wbi = w
	b.wbiExpiry = now.Add(wbiKeyTTL)
	return &w, nil
}

// getJSON fetches a standard {code, message, data} envelope into data.
func (b *Bootstrapper) getJSON(ctx context.Context, s *session.RoomSession, u string, data any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.UserAgent)
	req.Header.Set("Referer", origin+"/"+s.RoomID)
	req.Header.Set("Origin", origin)
	if s.Cookies != "" {
		req.Header.Set("Cookie", s.Cookies)
	}

	resp, err := b.client().Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return 0, session.ErrRoomNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	var env apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return 0, errors.Wrap(err, "decode response")
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, data); err != nil {
			return env.Code, errors.Wrap(err, "decode response data")
		}
	}
	return env.Code, nil
}

// ExtractRoomID accepts a bare room id or a live.bilibili.com URL.
func ExtractRoomID(idOrURL string) string {
	idOrURL = strings.TrimSpace(idOrURL)
	_, rest, ok := strings.Cut(idOrURL, "live.bilibili.com/")
	if !ok {
		return idOrURL
	}
	segs := strings.FieldsFunc(rest, func(r rune) bool { return r == '?' || r == '&' || r == '/' })
	if len(segs) == 0 {
		return ""
	}
	if _, err := strconv.ParseUint(segs[0], 10, 64); err != nil {
		return ""
	}
	return segs[0]
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

func (b *Bootstrapper) roomInitURL() string  { return orDefault(b.RoomInitURL, defaultRoomInitURL) }
func (b *Bootstrapper) navURL() string       { return orDefault(b.NavURL, defaultNavURL) }
func (b *Bootstrapper) danmuInfoURL() string { return orDefault(b.DanmuInfoURL, defaultDanmuInfoURL) }
func (b *Bootstrapper) siteURL() string      { return orDefault(b.SiteURL, defaultSiteURL) }

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func (b *Bootstrapper) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

func (b *Bootstrapper) logger() *zap.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return zap.NewNop()
}
