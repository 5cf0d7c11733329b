/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package recovery classifies playback failures and trips a circuit breaker
// when transient failures arrive faster than the channel can absorb them.
package recovery

import "strings"

// Class is the recovery policy a playback failure falls under.
type Class int

const (
	// Transient failures (network, timeout, rate limiting) count toward the breaker.
	Transient Class = iota
	// ResourceInvalid failures (corrupt or unsupported audio) skip the track at once.
	ResourceInvalid
	// PolicyBlocked failures (playback refused without a user gesture) wait
	// for an explicit acknowledgment.
	PolicyBlocked
)

func (c Class) String() string {
	switch c {
	case ResourceInvalid:
		return "resource_invalid"
	case PolicyBlocked:
		return "policy_blocked"
	default:
		return "transient"
	}
}

// Error codes a playback device may report.
const (
	CodeNotAllowed  = "not_allowed"
	CodeDecode      = "decode"
	CodeUnsupported = "unsupported"
	CodeNotFound    = "not_found"
	CodeNetwork     = "network"
	CodeTimeout     = "timeout"
	CodeRateLimited = "rate_limited"
	CodeAborted     = "aborted"
)

var (
	policyMarkers  = []string{"notallowederror", "not allowed", "user gesture", "autoplay", "permission denied"}
	invalidMarkers = []string{
		"could not decode", "decode error", "no decoder", "not supported", "unsupported",
		"could not determine type", "corrupt", "invalid data", "no such file", "not found", "404",
	}
)

// Classify maps a device error code and free-form detail to a Class. The code
// wins when it is recognized; otherwise the detail text is inspected. Anything
// unrecognized is Transient.
func Classify(code, detail string) Class {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case CodeNotAllowed:
		return PolicyBlocked
	case CodeDecode, CodeUnsupported, CodeNotFound:
		return ResourceInvalid
	case CodeNetwork, CodeTimeout, CodeRateLimited, CodeAborted:
		return Transient
	}

	d := strings.ToLower(detail)
	for _, m := range policyMarkers {
		if strings.Contains(d, m) {
			return PolicyBlocked
		}
	}
	for _, m := range invalidMarkers {
		if strings.Contains(d, m) {
			return ResourceInvalid
		}
	}
	return Transient
}
