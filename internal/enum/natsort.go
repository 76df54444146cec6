package enum

import (
	"sort"
	"strconv"
	"unicode"
)

// naturalLess compares strings numerically where digit runs appear, so
// "2/tcp" sorts before "10/tcp".
func naturalLess(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	i, j := 0, 0

	for i < len(ra) && j < len(rb) {
		if unicode.IsDigit(ra[i]) && unicode.IsDigit(rb[j]) {
			startA, startB := i, j
			for i < len(ra) && unicode.IsDigit(ra[i]) {
				i++
			}
			for j < len(rb) && unicode.IsDigit(rb[j]) {
				j++
			}
			na, _ := strconv.Atoi(string(ra[startA:i]))
			nb, _ := strconv.Atoi(string(rb[startB:j]))
			if na != nb {
				return na < nb
			}
			continue
		}
		if ra[i] != rb[j] {
			return ra[i] < rb[j]
		}
		i++
		j++
	}
	return len(ra)-i < len(rb)-j
}

// sortNatural sorts lines in place using numeric-aware ordering.
func sortNatural(lines []string) {
	sort.Slice(lines, func(i, j int) bool {
		return naturalLess(lines[i], lines[j])
	})
}
