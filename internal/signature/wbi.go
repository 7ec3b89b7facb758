package signature

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var mixinKeyEncTable = []int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35,
	27, 43, 5, 49, 33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13,
	37, 48, 7, 16, 24, 55, 40, 61, 26, 17, 0, 1, 60, 51, 30, 4,
	22, 25, 54, 21, 56, 59, 6, 63, 57, 62, 11, 36, 20, 34, 44, 52,
}

// WBI signs bilibili web API queries with wts and w_rid.
type WBI struct {
	ImgKey string
	SubKey string
	Now    func() time.Time
}

// KeyFromURL extracts a WBI key from the wbi_img URLs of the nav endpoint,
// i.e. the file name without its extension.
func KeyFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	if idx := strings.Index(name, "."); idx > 0 {
		return name[:idx]
	}
	return name
}

// MixinKey permutes ImgKey+SubKey into the 32-character signing key.
func (w *WBI) MixinKey() (string, error) {
	raw := []rune(w.ImgKey + w.SubKey)
	if len(raw) < len(mixinKeyEncTable) {
		return "", errors.Wrap(ErrMissingField, "wbi img/sub key")
	}
	var sb strings.Builder
	for _, idx := range mixinKeyEncTable[:32] {
		sb.WriteRune(raw[idx])
	}
	return sb.String(), nil
}

// Sign returns a copy of query with wts and w_rid set.
func (w *WBI) Sign(query url.Values) (url.Values, error) {
	mixin, err := w.MixinKey()
	if err != nil {
		return nil, err
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}

	signed := url.Values{}
	for k, v := range query {
		if k == "w_rid" {
			continue
		}
		signed[k] = append([]string(nil), v...)
	}
	signed.Set("wts", strconv.FormatInt(now().Unix(), 10))

	keys := make([]string, 0, len(signed))
	for k := range signed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, encodeURIComponent(k)+"="+encodeURIComponent(sanitizeWBIValue(signed.Get(k))))
	}
	sum := md5.Sum([]byte(strings.Join(parts, "&") + mixin))
	signed.Set("w_rid", hex.EncodeToString(sum[:]))
	return signed, nil
}

func sanitizeWBIValue(v string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '!', '\'', '(', ')', '*':
			return -1
		}
		return r
	}, v)
}

func encodeURIComponent(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}
