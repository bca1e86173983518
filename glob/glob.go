// Package glob matches host names against shell-style patterns the way the
// kernel's glob_match does: '*' matches any run (including none), '?' one
// byte, "[a-z]" and "[!a-z]" classes, and '\' quotes the next byte.
// Matching is case-sensitive, '/' and '.' are not special, and both the
// pattern and the text end at their first NUL byte.
package glob

// Match reports whether text matches pattern.
func Match[T ~string | ~[]byte](pattern string, text T) bool {
	var (
		p, s         int
		backP, backS = -1, 0
		n            = cstrlen(text)
	)
	for {
		c := at(text, s, n)
		s++
		d := pattern0(pattern, p)
		p++

		switch d {
		case '?': // anything but NUL
			if c == 0 {
				return false
			}
			continue

		case '*':
			if pattern0(pattern, p) == 0 { // trailing '*'
				return true
			}
			backP = p
			s--
			backS = s
			continue

		case '[':
			if c == 0 { // no possible match
				return false
			}
			match, next, ok := class(pattern, p, c)
			if ok {
				if match {
					p = next
					continue
				}
				goto backtrack
			}
			// malformed class: '[' is a literal

		case '\\':
			d = pattern0(pattern, p)
			p++
		}

		if c == d {
			if d == 0 {
				return true
			}
			continue
		}

	backtrack:
		if c == 0 || backP < 0 {
			return false
		}
		// retry from the last '*', one byte further into text
		p = backP
		backS++
		s = backS
	}
}

// class evaluates the bracket expression whose body starts at p (just past
// '['). It returns whether c is selected, the pattern index after the
// closing ']', and ok=false when the class is unterminated.
func class(pattern string, p int, c byte) (match bool, next int, ok bool) {
	inverted := pattern0(pattern, p) == '!'
	if inverted {
		p++
	}
	a := pattern0(pattern, p)
	p++
	// the first span may begin with ']'
	for {
		b := a
		if a == 0 {
			return false, 0, false
		}
		if pattern0(pattern, p) == '-' && pattern0(pattern, p+1) != ']' {
			b = pattern0(pattern, p+1)
			if b == 0 {
				return false, 0, false
			}
			p += 2
		}
		if a <= c && c <= b {
			match = true
		}
		a = pattern0(pattern, p)
		p++
		if a == ']' {
			break
		}
	}
	return match != inverted, p, true
}

// pattern0 reads the pattern as a C string.
func pattern0(s string, i int) byte {
	if i >= len(s) {
		return 0
	}
	return s[i]
}

// at returns s[i] for i < n and NUL from n on.
func at[T ~string | ~[]byte](s T, i, n int) byte {
	if i >= n {
		return 0
	}
	return s[i]
}

// cstrlen is the length of s up to its first NUL.
func cstrlen[T ~string | ~[]byte](s T) int {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return i
		}
	}
	return len(s)
}
