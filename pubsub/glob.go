// File: pubsub/glob.go
// Default pattern matcher for pattern subscriptions; callers may supply
// their own Matcher instead. Supports '*' (any run of bytes) and '?'
// (exactly one byte), the conventional shell-glob subset used by
// pub/sub systems (Redis PSUBSCRIBE, MQTT-style topic globs).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package pubsub

// Glob reports whether channel matches pattern using '*' and '?'
// wildcards. Matching is iterative (no recursion, no catastrophic
// backtracking) using the standard two-pointer glob algorithm.
func Glob(channel, pattern string) bool {
	var ci, pi int
	var star, ciMark = -1, -1

	for ci < len(channel) {
		if pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == channel[ci]) {
			ci++
			pi++
			continue
		}
		if pi < len(pattern) && pattern[pi] == '*' {
			star = pi
			ciMark = ci
			pi++
			continue
		}
		if star != -1 {
			pi = star + 1
			ciMark++
			ci = ciMark
			continue
		}
		return false
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
