package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// fetcher downloads documents referenced by URL into memory.
type fetcher struct {
	client       *http.Client
	maxBytes     int64
	allowedHosts []string
	allowPrivate bool
}

func newFetcher(timeout time.Duration, maxBytes int64, allowedHosts []string, allowPrivate bool) *fetcher {
	return &fetcher{
		client: &http.Client{
			Timeout: timeout,
			// Each hop is re-checked so a redirect cannot reach a private host.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects")
				}
				return validateDownloadURL(req.URL.String(), allowedHosts, allowPrivate)
			},
		},
		maxBytes:     maxBytes,
		allowedHosts: allowedHosts,
		allowPrivate: allowPrivate,
	}
}

type fetched struct {
	Data     []byte
	MIMEType string // from Content-Type, parameters stripped
	FileName string // last path segment
}

func (f *fetcher) fetch(ctx context.Context, rawURL string) (fetched, error) {
	if err := validateDownloadURL(rawURL, f.allowedHosts, f.allowPrivate); err != nil {
		return fetched{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fetched{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "docintel/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return fetched{}, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fetched{}, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return fetched{}, fmt.Errorf("file exceeds %s limit", humanize.Bytes(uint64(f.maxBytes)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return fetched{}, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return fetched{}, fmt.Errorf("file exceeds %s limit", humanize.Bytes(uint64(f.maxBytes)))
	}

	out := fetched{Data: data}
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && mt != "application/octet-stream" {
		out.MIMEType = mt
	}
	if u, err := url.Parse(rawURL); err == nil {
		if i := strings.LastIndexByte(u.Path, '/'); i >= 0 && i < len(u.Path)-1 {
			out.FileName = u.Path[i+1:]
		}
	}
	return out, nil
}

// validateDownloadURL accepts https URLs whose host ends with one of
// allowedHosts (any public host when the list is empty). Loopback and
// private addresses are refused unless allowPrivate is set, which also
// permits plain http for them.
func validateDownloadURL(rawURL string, allowedHosts []string, allowPrivate bool) error {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed == nil {
		return fmt.Errorf("invalid download URL")
	}

	host := strings.ToLower(strings.TrimSpace(parsed.Hostname()))
	if host == "" {
		return fmt.Errorf("download URL host is required")
	}

	isLocalName := host == "localhost" || strings.HasSuffix(host, ".localhost")
	isPrivateIP := false
	if ip := net.ParseIP(host); ip != nil {
		isPrivateIP = isPrivateOrLocalIP(ip)
	}
	local := isLocalName || isPrivateIP

	switch strings.ToLower(parsed.Scheme) {
	case "https":
	case "http":
		if !(allowPrivate && local) {
			return fmt.Errorf("download URL must use https")
		}
	default:
		return fmt.Errorf("download URL must use https")
	}

	if local {
		if allowPrivate {
			return nil
		}
		return fmt.Errorf("download URL host is not allowed")
	}

	if len(allowedHosts) == 0 {
		return nil
	}
	for _, suffix := range allowedHosts {
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		if suffix == "" {
			continue
		}
		if host == strings.TrimPrefix(suffix, ".") || strings.HasSuffix(host, "."+strings.TrimPrefix(suffix, ".")) {
			return nil
		}
	}
	return fmt.Errorf("download URL host is not allowed")
}

func isPrivateOrLocalIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalMulticast() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	if ip.IsPrivate() {
		return true
	}
	// RFC6598 carrier-grade NAT range: 100.64.0.0/10
	if v4 := ip.To4(); v4 != nil && v4[0] == 100 && v4[1] >= 64 && v4[1] <= 127 {
		return true
	}
	return false
}
