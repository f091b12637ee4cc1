package model

// MatchGlob matches s against a glob pattern where '*' matches any run of
// characters (including none) and '?' matches exactly one character. All
// other characters match literally. Iterative with single-star backtracking,
// so pathological patterns stay linear.
func MatchGlob(pattern, s string) bool {
	var (
		p, i      int
		starP     = -1
		starMatch int
	)
	for i < len(s) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == s[i]):
			p++
			i++
		case p < len(pattern) && pattern[p] == '*':
			starP = p
			starMatch = i
			p++
		case starP >= 0:
			// Backtrack: let the last '*' absorb one more character.
			p = starP + 1
			starMatch++
			i = starMatch
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
