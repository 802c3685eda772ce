package bus

import "strings"

const (
	segmentSep = '.'
	anyRun     = '*'
	anyOne     = '?'
)

// HasWildcard reports whether the pattern needs a scan rather than a hash lookup.
func HasWildcard(pattern string) bool {
	return strings.ContainsAny(pattern, "*?")
}

type backtrack struct {
	p, t int
}

// IsMatching reports whether topic matches pattern. '*' matches any run of
// characters inside one segment, '?' matches exactly one non-separator
// character. Each '*' pushes a resume point so a failed literal match can
// retry with the star consuming one more character.
func IsMatching(topic, pattern string) bool {
	if !HasWildcard(pattern) {
		return topic == pattern
	}

	var stack []backtrack
	p, t := 0, 0
	for {
		switch {
		case p < len(pattern) && pattern[p] == anyRun:
			stack = append(stack, backtrack{p: p, t: t})
			p++
			continue
		case p < len(pattern) && t < len(topic) && pattern[p] == anyOne && topic[t] != segmentSep:
			p++
			t++
			continue
		case p < len(pattern) && t < len(topic) && pattern[p] != anyOne && pattern[p] == topic[t]:
			p++
			t++
			continue
		case p == len(pattern) && t == len(topic):
			return true
		}

		// mismatch: let the most recent star absorb one more character
		for {
			if len(stack) == 0 {
				return false
			}
			top := &stack[len(stack)-1]
			if top.t < len(topic) && topic[top.t] != segmentSep {
				top.t++
				p, t = top.p+1, top.t
				break
			}
			stack = stack[:len(stack)-1]
		}
	}
}

// isMatchingDP is the reference dynamic-programming matcher for the same
// language as IsMatching.
func isMatchingDP(topic, pattern string) bool {
	n, m := len(topic), len(pattern)
	// dp[i][j]: topic[:i] matches pattern[:j]
	dp := make([][]bool, n+1)
	for i := range dp {
		dp[i] = make([]bool, m+1)
	}
	dp[0][0] = true
	for j := 1; j <= m; j++ {
		dp[0][j] = dp[0][j-1] && pattern[j-1] == anyRun
	}
	for i := 1; i <= n; i++ {
		c := topic[i-1]
		for j := 1; j <= m; j++ {
			switch pc := pattern[j-1]; pc {
			case anyRun:
				dp[i][j] = dp[i][j-1] || (c != segmentSep && dp[i-1][j])
			case anyOne:
				dp[i][j] = c != segmentSep && dp[i-1][j-1]
			default:
				dp[i][j] = pc == c && dp[i-1][j-1]
			}
		}
	}
	return dp[n][m]
}
