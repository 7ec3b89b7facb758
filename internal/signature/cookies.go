package signature

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DouyinCookieNames are the cookie names douyin's push endpoint checks.
var DouyinCookieNames = []string{"ttwid", "__ac_nonce", "msToken", "s_v_web_id", "tt_scid"}

// Cookies is an ordered, de-duplicated set of name=value pairs.
type Cookies struct {
	pairs []string
}

// ParseCookies splits a Cookie header value.
func ParseCookies(header string) *Cookies {
	c := &Cookies{}
	for _, part := range strings.Split(header, ";") {
		c.add(strings.TrimSpace(part))
	}
	return c
}

func (c *Cookies) add(pair string) {
	if pair == "" {
		return
	}
	for _, p := range c.pairs {
		if p == pair {
			return
		}
	}
	c.pairs = append(c.pairs, pair)
}

// Get returns the value of the first cookie called name.
func (c *Cookies) Get(name string) (string, bool) {
	prefix := name + "="
	for _, p := range c.pairs {
		if strings.HasPrefix(p, prefix) {
			return p[len(prefix):], true
		}
	}
	return "", false
}

// Header renders the set as a Cookie header value.
func (c *Cookies) Header() string {
	return strings.Join(c.pairs, ";")
}

// Merge appends the pairs of other that c does not hold yet.
func (c *Cookies) Merge(other *Cookies) {
	if other == nil {
		return
	}
	for _, p := range other.pairs {
		c.add(p)
	}
}

// Len reports the number of pairs.
func (c *Cookies) Len() int { return len(c.pairs) }

// CookieHarvester collects the cookies a site sets for an anonymous visitor.
type CookieHarvester struct {
	Client    *http.Client
	UserAgent string
	Referer   string
	// AllowList keeps a Set-Cookie when its name=value text contains any
	// entry. Empty keeps everything.
	AllowList []string
	Now       func() time.Time
}

// Harvest issues HEAD then GET against pageURL and merges the allow-listed
// cookies of both responses.
func (h *CookieHarvester) Harvest(ctx context.Context, pageURL string) (*Cookies, error) {
	jar := &Cookies{}
	for _, method := range []string{http.MethodHead, http.MethodGet} {
		if err := h.collect(ctx, method, pageURL, jar); err != nil {
			return nil, err
		}
	}
	return jar, nil
}

func (h *CookieHarvester) collect(ctx context.Context, method, pageURL string, jar *Cookies) error {
	req, err := http.NewRequestWithContext(ctx, method, pageURL, nil)
	if err != nil {
		return errors.Wrapf(err, "build %s request", method)
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}
	if h.Referer != "" {
		req.Header.Set("Referer", h.Referer)
	}

	resp, err := h.client().Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, pageURL)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	for _, line := range resp.Header.Values("Set-Cookie") {
		first, _, _ := strings.Cut(line, ";")
		first = strings.TrimSpace(first)
		if h.allowed(first) {
			jar.add(first)
		}
	}
	return nil
}

func (h *CookieHarvester) allowed(pair string) bool {
	if pair == "" {
		return false
	}
	if len(h.AllowList) == 0 {
		return true
	}
	for _, name := range h.AllowList {
		if strings.Contains(pair, name) {
			return true
		}
	}
	return false
}

func (h *CookieHarvester) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return http.DefaultClient
}

// DeviceID picks the douyin user_unique_id: s_v_web_id, then ttwid, then the
// current unix milliseconds.
func (h *CookieHarvester) DeviceID(c *Cookies) string {
	if c != nil {
		for _, name := range []string{"s_v_web_id", "ttwid"} {
			if v, ok := c.Get(name); ok && v != "" {
				return v
			}
		}
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	return strconv.FormatInt(now().UnixMilli(), 10)
}
