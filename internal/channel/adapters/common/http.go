// Package common holds helpers shared by the platform adapters.
package common

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/memohai/courier/internal/channel"
)

const (
	maxConnsPerHost     = 200
	maxIdleConns        = 100
	defaultTimeout      = 10 * time.Second
	dialTimeout         = 5 * time.Second
	maxResponseBytes    = 1 << 20
	errorBodyPrefixSize = 300
)

// NewHTTPClient returns a pooled client for platform and assistant APIs. A non-positive
// timeout falls back to 10s.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxConnsPerHost:     maxConnsPerHost,
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConns,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: dialTimeout,
		ForceAttemptHTTP2:   true,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// DoJSON sends body as JSON and decodes the response into out when out is non-nil.
// Non-2xx answers become *channel.HTTPStatusError; a 2xx answer with an empty or non-JSON body
// wraps channel.ErrEmptyResponse or channel.ErrInvalidResponse. Transport errors are returned
// as they come from the client.
func DoJSON(ctx context.Context, client *http.Client, method, rawURL string, headers map[string]string, body, out any) error {
	if client == nil {
		client = http.DefaultClient
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &channel.HTTPStatusError{
			StatusCode: resp.StatusCode,
			URL:        RedactURL(rawURL),
			Body:       truncate(strings.TrimSpace(string(respBody)), errorBodyPrefixSize),
		}
	}
	trimmed := bytes.TrimSpace(respBody)
	if len(trimmed) == 0 {
		return fmt.Errorf("%s %s: %w", method, RedactURL(rawURL), channel.ErrEmptyResponse)
	}
	if out == nil {
		if !json.Valid(trimmed) {
			return fmt.Errorf("%s %s: %w", method, RedactURL(rawURL), channel.ErrInvalidResponse)
		}
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, RedactURL(rawURL), channel.ErrInvalidResponse, err)
	}
	return nil
}

// PostJSON is DoJSON with the POST method.
func PostJSON(ctx context.Context, client *http.Client, rawURL string, headers map[string]string, body, out any) error {
	return DoJSON(ctx, client, http.MethodPost, rawURL, headers, body, out)
}

// RedactURL keeps only scheme and host, since platform URLs may embed API tokens in the path.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "<redacted>"
	}
	return u.Scheme + "://" + u.Host
}

// SummarizeText collapses whitespace and shortens text for log lines.
func SummarizeText(text string) string {
	return truncate(strings.Join(strings.Fields(text), " "), 120)
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
