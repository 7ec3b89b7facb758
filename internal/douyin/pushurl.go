package douyin

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	pushBase = "wss://webcast5-ws-web-hl.douyin.com/webcast/im/push/v2/"

	// pushDeviceID is the device id the web client advertises on the push
	// socket regardless of the visitor cookies.
	pushDeviceID = "7319483754668557238"
)

// PushQuery is the query of the push socket URL before signing.
type PushQuery struct {
	RoomID    string
	UserAgent string
	Now       time.Time
}

// raw renders the query with internal_ext left unescaped; this is the form
// that gets signed.
func (q PushQuery) raw() string { return q.render(false) }

// encoded renders the query as it goes on the wire.
func (q PushQuery) encoded() string { return q.render(true) }

func (q PushQuery) render(escapeExt bool) string {
	ms := q.Now.UnixMilli()
	now := strconv.FormatInt(ms, 10)
	cursor := "d-1_u-1_fh-7392091211001140287_t-" + now + "_r-1"
	ext := "internal_src:dim|wss_push_room_id:" + q.RoomID +
		"|wss_push_did:" + pushDeviceID +
		"|first_req_ms:" + strconv.FormatInt(ms-100, 10) +
		"|fetch_time:" + now +
		"|seq:1|wss_info:0-" + now + "-0-0|wrds_v:7392094459690748497"
	if escapeExt {
		ext = url.QueryEscape(ext)
	}

	params := [][2]string{
		{"app_name", "douyin_web"},
		{"version_code", "180800"},
		{"webcast_sdk_version", "1.0.14-beta.0"},
		{"update_version_code", "1.0.14-beta.0"},
		{"compress", "gzip"},
		{"device_platform", "web"},
		{"cookie_enabled", "true"},
		{"screen_width", "1536"},
		{"screen_height", "864"},
		{"browser_language", "zh-CN"},
		{"browser_platform", "Win32"},
		{"browser_name", "Mozilla"},
		{"browser_version", browserVersion(q.UserAgent)},
		{"browser_online", "true"},
		{"tz_name", "Asia/Shanghai"},
		{"cursor", cursor},
		{"internal_ext", ext},
		{"host", "https://live.douyin.com"},
		{"aid", "6383"},
		{"live_id", "1"},
		{"did_rule", "3"},
		{"endpoint", "live_pc"},
		{"support_wrds", "1"},
		{"user_unique_id", pushDeviceID},
		{"im_path", "/webcast/im/fetch/"},
		{"identity", "audience"},
		{"need_persist_msg_count", "15"},
		{"insert_task_id", ""},
		{"live_reason", ""},
		{"room_id", q.RoomID},
		{"heartbeatDuration", "0"},
	}
	var sb strings.Builder
	for i, p := range params {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(p[0])
		sb.WriteByte('=')
		sb.WriteString(p[1])
	}
	return sb.String()
}

// browserVersion is the user agent without its "Mozilla/" product token and
// with spaces percent-encoded, the way the web client sends it.
func browserVersion(ua string) string {
	return strings.ReplaceAll(strings.TrimPrefix(ua, "Mozilla/"), " ", "%20")
}

// PushURL builds the signed push socket URL. sign receives the query with
// internal_ext unescaped.
func PushURL(q PushQuery, sign func(query string) string) string {
	u := pushBase + "?" + q.encoded()
	if sign != nil {
		u += "&signature=" + url.QueryEscape(sign(q.raw()))
	}
	return u
}
