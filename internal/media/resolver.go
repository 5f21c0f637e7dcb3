// Package media classifies attachment URLs into MIME types when the
// provider does not supply one. Resolution is best-effort by contract: the
// resolver never returns an error, and unresolvable inputs degrade to the
// generic binary type instead of blocking ingestion.
package media

import (
	"context"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// TypeGenericBinary is the terminal fallback for URLs no strategy can
// classify.
const TypeGenericBinary = "application/octet-stream"

// extensionTypes maps known file extensions to MIME types. These cover the
// attachment formats the provider actually delivers.
var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// Strategy attempts to classify a URL. It reports ok=false to pass the URL
// to the next strategy in the chain.
type Strategy func(ctx context.Context, rawURL string) (mimeType string, ok bool)

// Resolver classifies attachment URLs through an ordered strategy chain:
//
//  1. metadata probe: a HEAD request bounded by ProbeTimeout, reading the
//     declared Content-Type;
//  2. extension table: match the URL path's file extension;
//  3. storage-host heuristic: URLs on the provider's object-storage host
//     without a matching extension default to image/jpeg (the dominant case
//     for that host);
//  4. generic binary type.
//
// The chain is an explicit ordered list so each strategy is independently
// testable and the fallback order is a visible contract.
type Resolver struct {
	strategies []Strategy
}

// New builds a Resolver with the standard strategy chain. storageHost is
// the provider's object-storage domain; probeTimeout bounds the HEAD probe.
// A nil client gets a dedicated probe client so ingestion latency is capped
// regardless of ambient transport settings.
func New(storageHost string, probeTimeout time.Duration, client *http.Client) *Resolver {
	if probeTimeout <= 0 {
		probeTimeout = 3 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	return &Resolver{
		strategies: []Strategy{
			ProbeStrategy(client, probeTimeout),
			ExtensionStrategy(),
			StorageHostStrategy(storageHost),
		},
	}
}

// Resolve classifies rawURL into a MIME type. It never fails: when every
// strategy passes, the generic binary type is returned.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) string {
	for _, s := range r.strategies {
		if t, ok := s(ctx, rawURL); ok {
			return t
		}
	}
	return TypeGenericBinary
}

// ProbeStrategy issues a HEAD request against the URL and reads the
// declared content type. The probe is bounded by timeout and skipped
// entirely for unparseable URLs. Any network error, non-2xx status, or
// missing/unparseable Content-Type passes to the next strategy.
func ProbeStrategy(client *http.Client, timeout time.Duration) Strategy {
	return func(ctx context.Context, rawURL string) (string, bool) {
		u, err := url.Parse(rawURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return "", false
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
		if err != nil {
			return "", false
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", false
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return "", false
		}
		ct := resp.Header.Get("Content-Type")
		if ct == "" {
			return "", false
		}
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType == "" || mediaType == TypeGenericBinary {
			// A declared octet-stream is no better than our own fallback;
			// let the extension table try for something more specific.
			return "", false
		}
		return mediaType, true
	}
}

// ExtensionStrategy matches the URL path's file extension against the
// static table.
func ExtensionStrategy() Strategy {
	return func(_ context.Context, rawURL string) (string, bool) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", false
		}
		ext := strings.ToLower(path.Ext(u.Path))
		t, ok := extensionTypes[ext]
		return t, ok
	}
}

// StorageHostStrategy defaults URLs on the provider's object-storage host
// to image/jpeg, empirically the dominant content type for that host.
func StorageHostStrategy(storageHost string) Strategy {
	host := strings.ToLower(strings.TrimSpace(storageHost))
	return func(_ context.Context, rawURL string) (string, bool) {
		if host == "" {
			return "", false
		}
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", false
		}
		if strings.EqualFold(u.Hostname(), host) {
			return "image/jpeg", true
		}
		return "", false
	}
}
