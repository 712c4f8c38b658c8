package tools

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"
)

const (
	fetchTimeout   = 15 * time.Second
	fetchMaxBytes  = 2 << 20 // response cap, counted while streaming
	fetchRedirects = 3
	fetchUserAgent = "hive/1.0 (+https://github.com/nextlevelbuilder/hive)"
)

// Fetcher is the shared HTTP client for the web tools. Every connection —
// including redirect targets — is re-validated against private address
// ranges, so a hostname that resolves into internal space is refused even
// when DNS changes between requests.
type Fetcher struct {
	client       *http.Client
	maxBytes     int64
	allowPrivate bool
}

type FetchOption func(*Fetcher)

// WithPrivateAddresses disables the private-range guard. For tests and
// deployments that intentionally poll feeds on the local network.
func WithPrivateAddresses() FetchOption {
	return func(f *Fetcher) { f.allowPrivate = true }
}

func NewFetcher(opts ...FetchOption) *Fetcher {
	f := &Fetcher{maxBytes: fetchMaxBytes}
	for _, opt := range opts {
		opt(f)
	}

	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			if f.allowPrivate {
				return nil
			}
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			ip := net.ParseIP(host)
			if ip == nil || isForbiddenIP(ip) {
				return fmt.Errorf("connection to %s blocked", host)
			}
			return nil
		},
	}

	f.client = &http.Client{
		Timeout: fetchTimeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= fetchRedirects {
				return fmt.Errorf("stopped after %d redirects", fetchRedirects)
			}
			return f.checkURL(req.URL)
		},
	}
	return f
}

// FetchResult is a bounded response body plus the metadata tools report.
type FetchResult struct {
	Body        []byte
	ContentType string
	Status      int
	FinalURL    string
}

// Get fetches rawURL with the SSRF guard, timeout, and size cap applied.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*FetchResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if err := f.checkURL(u); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", f.maxBytes)
	}

	return &FetchResult{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Status:      resp.StatusCode,
		FinalURL:    resp.Request.URL.String(),
	}, nil
}

// checkURL validates scheme and host, resolving the hostname so a DNS name
// pointing at internal space is rejected before any request goes out.
func (f *Fetcher) checkURL(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing hostname")
	}
	if f.allowPrivate {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if isForbiddenIP(ip) {
			return fmt.Errorf("address %s is not allowed", ip)
		}
		return nil
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if isForbiddenIP(ip) {
			return fmt.Errorf("host %s resolves to forbidden address %s", host, ip)
		}
	}
	return nil
}

// isForbiddenIP reports whether ip falls in a range the web tools must not
// reach: IPv4 loopback, RFC1918, link-local, and the 0.0.0.0/8 block; IPv6
// loopback, unique-local (fc00::/7), and link-local (fe80::/10).
func isForbiddenIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return true
	}
	if v4 := ip.To4(); v4 != nil && v4[0] == 0 {
		return true
	}
	return false
}
