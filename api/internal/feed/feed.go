// Package feed classifies the headlines of an RSS or Atom feed.
package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/mmcdole/gofeed"

	"newscheck/api/internal/detect"
)

var (
	// ErrFetch covers every way a feed can fail to download or parse.
	ErrFetch         = errors.New("feed unavailable")
	ErrInvalidURL    = errors.New("feed url must be an absolute http or https url")
	ErrForbiddenHost = errors.New("feed host is not allowed")
	ErrTooLarge      = errors.New("feed too large")
)

const (
	DefaultMaxBytes = 5 << 20
	userAgent       = "newscheck/1.0"
	maxRedirects    = 5
)

// carrier-grade NAT space, not covered by netip's IsPrivate
var sharedAddrSpace = netip.MustParsePrefix("100.64.0.0/10")

type Predictor interface {
	Predict(text string) (detect.Prediction, error)
}

type Item struct {
	Title     string     `json:"title"`
	Link      string     `json:"link,omitempty"`
	Published *time.Time `json:"published,omitempty"`
	detect.Prediction
}

type Result struct {
	Feed  string `json:"feed"`
	Items []Item `json:"items"`
}

type Checker struct {
	parser   *gofeed.Parser
	client   *http.Client
	pred     Predictor
	MaxItems int

	maxBytes     int64
	allowPrivate bool
}

type Option func(*Checker)

// AllowPrivateHosts lets the checker reach loopback, private and link-local
// addresses. Off by default.
func AllowPrivateHosts() Option {
	return func(c *Checker) { c.allowPrivate = true }
}

// MaxBytes caps the size of a downloaded feed document.
func MaxBytes(n int64) Option {
	return func(c *Checker) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

func NewChecker(pred Predictor, maxItems int, opts ...Option) *Checker {
	if maxItems <= 0 {
		maxItems = 20
	}
	c := &Checker{
		parser:   gofeed.NewParser(),
		pred:     pred,
		MaxItems: maxItems,
		maxBytes: DefaultMaxBytes,
	}
	for _, o := range opts {
		o(c)
	}
	c.client = newClient(c.allowPrivate)
	return c
}

// newClient dials only public unicast addresses unless allowPrivate is set.
// The address check runs after DNS resolution and again on every redirect
// hop. Proxies are not used since they would dial on the client's behalf.
func newClient(allowPrivate bool) *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if !allowPrivate {
		dialer.Control = refuseNonPublic
	}
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return fmt.Errorf("%w: redirect to %s", ErrInvalidURL, req.URL.Scheme)
			}
			return nil
		},
	}
}

func refuseNonPublic(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil || !isPublic(ip) {
		return fmt.Errorf("%w: %s", ErrForbiddenHost, host)
	}
	return nil
}

func isPublic(ip netip.Addr) bool {
	ip = ip.Unmap()
	switch {
	case !ip.IsValid(),
		ip.IsUnspecified(),
		ip.IsLoopback(),
		ip.IsPrivate(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsInterfaceLocalMulticast(),
		ip.IsMulticast(),
		sharedAddrSpace.Contains(ip):
		return false
	}
	return true
}

func parseFeedURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return u, nil
}

func (c *Checker) fetch(ctx context.Context, u *url.URL) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, gofeed.HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, c.maxBytes)
	}
	return c.parser.Parse(bytes.NewReader(body))
}

// Check fetches rawURL and classifies up to limit item titles (MaxItems when
// limit is out of range). Items without a title are skipped.
func (c *Checker) Check(ctx context.Context, rawURL string, limit int) (Result, error) {
	if limit <= 0 || limit > c.MaxItems {
		limit = c.MaxItems
	}
	u, err := parseFeedURL(rawURL)
	if err != nil {
		return Result{}, err
	}
	f, err := c.fetch(ctx, u)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	res := Result{Feed: f.Title, Items: []Item{}}
	for _, it := range f.Items {
		if len(res.Items) >= limit {
			break
		}
		title := strings.TrimSpace(it.Title)
		if title == "" {
			continue
		}
		p, err := c.pred.Predict(title)
		if err != nil {
			return Result{}, err
		}
		res.Items = append(res.Items, Item{
			Title:      title,
			Link:       it.Link,
			Published:  it.PublishedParsed,
			Prediction: p,
		})
	}
	slog.Debug("feed checked", "url", u.Redacted(), "feed", f.Title, "items", len(res.Items))
	return res, nil
}
