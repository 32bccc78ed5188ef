package store

// matchPattern reports whether key matches a Redis-style glob pattern.
// '*' matches any sequence of characters, '?' matches a single character,
// '[...]' matches a character class with '^' negation and 'a-z' ranges,
// and '\' escapes the next character.
func matchPattern(pattern, key string) bool {
	p, k := 0, 0
	starP, starK := -1, -1

	for k < len(key) {
		if p < len(pattern) {
			switch pattern[p] {
			case '*':
				starP, starK = p, k
				p++
				continue
			case '?':
				p++
				k++
				continue
			case '[':
				if end, ok := matchClass(pattern, p, key[k]); ok {
					p = end
					k++
					continue
				}
			case '\\':
				if p+1 < len(pattern) && pattern[p+1] == key[k] {
					p += 2
					k++
					continue
				}
			default:
				if pattern[p] == key[k] {
					p++
					k++
					continue
				}
			}
		}

		if starP == -1 {
			return false
		}

		starK++
		p = starP + 1
		k = starK
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}

	return p == len(pattern)
}

// matchClass evaluates the character class starting at pattern[start] ('[')
// against c. It returns the index just past the closing ']' and whether
// c is in the class. An unterminated class never matches.
func matchClass(pattern string, start int, c byte) (int, bool) {
	i := start + 1
	negate := false

	if i < len(pattern) && pattern[i] == '^' {
		negate = true
		i++
	}

	matched := false
	for i < len(pattern) && pattern[i] != ']' {
		if pattern[i] == '\\' && i+1 < len(pattern) {
			i++
			if pattern[i] == c {
				matched = true
			}
			i++
			continue
		}

		if i+2 < len(pattern) && pattern[i+1] == '-' && pattern[i+2] != ']' {
			lo, hi := pattern[i], pattern[i+2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if lo <= c && c <= hi {
				matched = true
			}
			i += 3
			continue
		}

		if pattern[i] == c {
			matched = true
		}
		i++
	}

	if i >= len(pattern) {
		return start, false
	}

	if negate {
		matched = !matched
	}

	return i + 1, matched
}
