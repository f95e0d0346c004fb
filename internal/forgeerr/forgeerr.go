// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package forgeerr defines the typed error taxonomy shared by the cache
// layer and the pack installer, so callers can distinguish failure modes
// with errors.As instead of parsing message strings.
package forgeerr

import (
	"errors"
	"fmt"
)

// Kind tags the category of a *Error.
type Kind string

const (
	// KindCacheTimeout means a follower exceeded its global wait budget.
	KindCacheTimeout Kind = "cache_timeout"
	// KindCacheMalformed means a stored value failed to deserialize.
	// Callers recover locally (treat as a miss); it is still surfaced
	// through this type so it can be logged for operations.
	KindCacheMalformed Kind = "cache_malformed"
	// KindLoaderFailed means the caller-supplied loader propagated an error.
	KindLoaderFailed Kind = "loader_failed"
	// KindManifestInvalid means the pack manifest failed parse-time validation.
	KindManifestInvalid Kind = "manifest_invalid"
	// KindPlatformMismatch means the manifest's game field didn't match
	// the expected platform. Kept distinct from KindManifestInvalid for
	// operational clarity (spec.md §7).
	KindPlatformMismatch Kind = "platform_mismatch"
	// KindFileVerificationFailed means a downloaded file's hash didn't
	// match any declared digest after exhausting all sources.
	KindFileVerificationFailed Kind = "file_verification_failed"
	// KindPathEscape means an override or file entry tried to write
	// outside the profile root.
	KindPathEscape Kind = "path_escape"
	// KindDependencyUnavailable means the loader/runtime toolchain could
	// not be resolved.
	KindDependencyUnavailable Kind = "dependency_unavailable"
	// KindIOError means a filesystem or network failure unrelated to
	// verification.
	KindIOError Kind = "io_error"
)

// Error is the tagged-variant error used across the cache and pack
// subsystems. Callers match on Kind; Cause carries the wrapped error, if any.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Path is set for KindPathEscape and KindFileVerificationFailed.
	Path string
	// Expected/Actual are set for KindFileVerificationFailed.
	Expected string
	Actual   string
}

func (e *Error) Error() string {
	if e.Path != "" {
		if e.Kind == KindFileVerificationFailed {
			return fmt.Sprintf("%s: %s: expected %s, got %s", e.Kind, e.Path, e.Expected, e.Actual)
		}
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, forgeerr.KindCacheTimeout)-style comparisons
// against a bare Kind wrapped in an *Error via New(kind, "").
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs a tagged error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a tagged error wrapping a lower-layer cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// CacheTimeout constructs a KindCacheTimeout error.
func CacheTimeout(key string) *Error {
	return New(KindCacheTimeout, fmt.Sprintf("timed out waiting for lock on %q", key))
}

// CacheMalformed constructs a KindCacheMalformed error.
func CacheMalformed(path string, cause error) *Error {
	return Wrap(KindCacheMalformed, fmt.Sprintf("stored value at %q failed to deserialize", path), cause)
}

// LoaderFailed constructs a KindLoaderFailed error.
func LoaderFailed(cause error) *Error {
	return Wrap(KindLoaderFailed, "loader callback failed", cause)
}

// ManifestInvalid constructs a KindManifestInvalid error.
func ManifestInvalid(reason string) *Error {
	return New(KindManifestInvalid, reason)
}

// PlatformMismatch constructs a KindPlatformMismatch error.
func PlatformMismatch(expected, actual string) *Error {
	return New(KindPlatformMismatch, fmt.Sprintf("expected platform %q, got %q", expected, actual))
}

// FileVerificationFailed constructs a KindFileVerificationFailed error.
func FileVerificationFailed(path, expected, actual string) *Error {
	return &Error{
		Kind:     KindFileVerificationFailed,
		Message:  "hash mismatch",
		Path:     path,
		Expected: expected,
		Actual:   actual,
	}
}

// PathEscape constructs a KindPathEscape error.
func PathEscape(path string) *Error {
	return &Error{Kind: KindPathEscape, Message: "resolved path escapes profile root", Path: path}
}

// DependencyUnavailable constructs a KindDependencyUnavailable error.
func DependencyUnavailable(reason string) *Error {
	return New(KindDependencyUnavailable, reason)
}

// IOError constructs a KindIOError error.
func IOError(cause error) *Error {
	return Wrap(KindIOError, "io failure", cause)
}

// Is reports whether err is a *Error with the given Kind. This is the
// normal way callers branch on the taxonomy:
//
//	if forgeerr.Is(err, forgeerr.KindCacheTimeout) { ... }
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
