package batch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var errNotFound = errors.New("not found")

// Fetcher downloads http(s) inputs into a work directory.
type Fetcher struct {
	client *resty.Client
	dir    string
	// retryDelay is the pause between attempts.
	retryDelay time.Duration
}

func NewFetcher(dir, proxy string) *Fetcher {
	client := resty.New()
	client.
		SetRetryCount(0).
		SetTransport(&http.Transport{
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}).
		SetHeader("Accept", "*/*").
		SetHeader("User-Agent", "haruki-cri-audio")
	if proxy != "" {
		client.SetProxy(proxy)
	}
	return &Fetcher{client: client, dir: dir, retryDelay: time.Second}
}

func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func (f *Fetcher) request(ctx context.Context, rawURL string) (*resty.Response, error) {
	var lastErr error
	for attempt := 0; attempt < 4; attempt++ {
		resp, err := f.client.R().
			SetContext(ctx).
			Get(rawURL)
		if err != nil {
			lastErr = err
			time.Sleep(f.retryDelay)
			continue
		}
		if resp.StatusCode() >= 500 {
			lastErr = fmt.Errorf("server error: %s", resp.Status())
			time.Sleep(f.retryDelay)
			continue
		}
		if resp.StatusCode() == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", rawURL, errNotFound)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("%s: unexpected status %s", rawURL, resp.Status())
		}
		return resp, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("request failed after retries")
}

func (f *Fetcher) save(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("url %q has no file name", rawURL)
	}
	resp, err := f.request(ctx, rawURL)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create work directory: %w", err)
	}
	p := filepath.Join(f.dir, name)
	if err := os.WriteFile(p, resp.Body(), 0644); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", name, err)
	}
	return p, nil
}

// Download fetches rawURL. For an ACB the sibling AWB is fetched too when the server has one.
func (f *Fetcher) Download(ctx context.Context, rawURL string) (string, error) {
	p, err := f.save(ctx, rawURL)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(filepath.Ext(p), ".acb") {
		u, _ := url.Parse(rawURL)
		u.Path = strings.TrimSuffix(u.Path, path.Ext(u.Path)) + ".awb"
		if _, err := f.save(ctx, u.String()); err != nil {
			if !errors.Is(err, errNotFound) {
				return "", err
			}
			logger.Debugf("no stream AWB next to %s", rawURL)
		}
	}
	return p, nil
}
