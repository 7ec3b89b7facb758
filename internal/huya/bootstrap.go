package huya

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/chen-zeong/dtv/internal/message"
	"github.com/chen-zeong/dtv/internal/session"
)

const (
	defaultPageURL    = "https://www.huya.com/"
	defaultProfileURL = "https://mp.huya.com/cache.php?m=Live&do=profileRoom&roomid="

	maxPageBytes = 4 << 20
)

var (
	reProfileInfo = regexp.MustCompile(`var\s+TT_PROFILE_INFO\s*=\s*(\{[\s\S]*?\});`)
	reLP          = regexp.MustCompile(`"lp"\s*:\s*"?(\d+)"?`)
	reAYYUID      = regexp.MustCompile(`"ayyuid"\s*:\s*"?(\d+)"?`)
	reYYUID       = regexp.MustCompile(`"yyuid"\s*:\s*"?(\d+)"?`)
)

// Bootstrapper resolves a huya room number into the presenter uid the
// socket registration needs. Huya needs no cookies.
type Bootstrapper struct {
	Client     *http.Client
	UserAgent  string
	PageURL    string // room page prefix, the room id is appended
	ProfileURL string // profileRoom API prefix, the room id is appended
	Logger     *zap.Logger
}

var _ session.Bootstrapper = (*Bootstrapper)(nil)

// ResolveRoom scrapes the room page for the presenter uid, falls back to the
// profileRoom API and finally to the room id itself.
func (b *Bootstrapper) ResolveRoom(ctx context.Context, roomID string) (*session.RoomSession, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, errors.Wrap(session.ErrRoomNotFound, "empty huya room id")
	}
	s := &session.RoomSession{
		Platform:  message.Huya,
		RoomID:    roomID,
		Endpoint:  Endpoint,
		UserAgent: b.userAgent(),
	}

	page, err := b.get(ctx, b.pageURL()+url.PathEscape(roomID), "https://www.huya.com/")
	if err != nil {
		return nil, errors.Wrap(err, "fetch huya room page")
	}
	uid := uidFromPage(page)
	if uid == "" {
		body, err := b.get(ctx, b.profileURL()+url.QueryEscape(roomID), "")
		if err != nil {
			b.logger().Warn("Huya profileRoom lookup failed", zap.String("room_id", roomID), zap.Error(err))
		} else {
			uid = uidFromProfile(body)
		}
	}
	if uid == "" {
		b.logger().Warn("Huya presenter uid not found, registering with room id", zap.String("room_id", roomID))
		uid = roomID
	}
	s.SetToken(TokenPresenterUID, uid)
	return s, nil
}

func (b *Bootstrapper) HarvestCookies(context.Context, *session.RoomSession) error { return nil }

// uidFromPage tries TT_PROFILE_INFO.lp, then any "lp", "ayyuid" or "yyuid"
// field in the page source.
func uidFromPage(page []byte) string {
	if m := reProfileInfo.FindSubmatch(page); m != nil {
		var info struct {
			LP json.RawMessage `json:"lp"`
		}
		if json.Unmarshal(m[1], &info) == nil {
			if v := jsonScalar(info.LP); v != "" {
				return v
			}
		}
	}
	for _, re := range []*regexp.Regexp{reLP, reAYYUID, reYYUID} {
		if m := re.FindSubmatch(page); m != nil {
			return string(m[1])
		}
	}
	return ""
}

// uidFromProfile walks the profileRoom response for the first uid-like key,
// visiting object keys in sorted order.
func uidFromProfile(body []byte) string {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return ""
	}
	return findUID(v)
}

func findUID(v any) string {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			val := t[k]
			switch strings.ToLower(k) {
			case "ayyuid", "yyuid", "lp", "uid":
				switch x := val.(type) {
				case string:
					if x != "" {
						return x
					}
				case float64:
					return strconv.FormatFloat(x, 'f', -1, 64)
				}
			}
			if found := findUID(val); found != "" {
				return found
			}
		}
	case []any:
		for _, item := range t {
			if found := findUID(item); found != "" {
				return found
			}
		}
	}
	return ""
}

func jsonScalar(raw json.RawMessage) string {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "null" {
		return ""
	}
	return s
}

func (b *Bootstrapper) get(ctx context.Context, target, referer string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", b.userAgent())
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	resp, err := b.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, session.ErrRoomNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
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

func (b *Bootstrapper) pageURL() string {
	if b.PageURL != "" {
		return b.PageURL
	}
	return defaultPageURL
}

func (b *Bootstrapper) profileURL() string {
	if b.ProfileURL != "" {
		return b.ProfileURL
	}
	return defaultProfileURL
}

func (b *Bootstrapper) logger() *zap.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return zap.NewNop()
}
