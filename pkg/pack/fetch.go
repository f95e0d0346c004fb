// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package pack

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/kraklabs/packforge/internal/forgeerr"
	"github.com/kraklabs/packforge/pkg/pack/contentcache"
)

func digestBytes(algorithm string, content []byte) (string, error) {
	return contentcache.Digest(algorithm, content)
}

// Fetcher retrieves the bytes at url. It is the §5 "shared HTTP/network
// client": one instance is shared across every concurrent download task
// in an install.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher is the default Fetcher, backed by a shared *http.Client.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher returns an HTTPFetcher using http.DefaultClient.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: http.DefaultClient}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.KindIOError, fmt.Sprintf("building request for %s", url), err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.KindIOError, fmt.Sprintf("fetching %s", url), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, forgeerr.New(forgeerr.KindIOError, fmt.Sprintf("fetching %s: status %d", url, resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, forgeerr.Wrap(forgeerr.KindIOError, fmt.Sprintf("reading body of %s", url), err)
	}
	return body, nil
}

// strongestHash picks the highest-priority algorithm present in hashes,
// preferring sha512 > sha256 > sha1 since the original verifies against
// "the strongest available hash" (spec.md §4.6).
func strongestHash(hashes FileHashes) (algorithm, digest string, ok bool) {
	for _, alg := range []string{"sha512", "sha256", "sha1"} {
		if d, present := hashes[alg]; present {
			return alg, d, true
		}
	}
	return "", "", false
}

// fetchAndVerify tries each of f.Downloads in order via fetcher, accepting
// the first source whose bytes verify against the strongest declared
// hash. It is the direct analogue of the original's fetch_mirrors.
func fetchAndVerify(ctx context.Context, fetcher Fetcher, f PackFile) ([]byte, string, string, error) {
	algorithm, want, ok := strongestHash(f.Hashes)
	if !ok {
		return nil, "", "", forgeerr.New(forgeerr.KindManifestInvalid, fmt.Sprintf("file %q declares no usable hash", f.Path))
	}

	var lastErr error
	for _, url := range f.Downloads {
		body, err := fetcher.Fetch(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		got, err := digestBytes(algorithm, body)
		if err != nil {
			lastErr = err
			continue
		}
		if got != want {
			lastErr = forgeerr.FileVerificationFailed(f.Path, want, got)
			continue
		}
		return body, algorithm, got, nil
	}
	if lastErr == nil {
		lastErr = forgeerr.New(forgeerr.KindIOError, fmt.Sprintf("file %q declared no download sources", f.Path))
	}
	return nil, "", "", lastErr
}
