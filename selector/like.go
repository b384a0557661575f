package selector

type likeKind byte

const (
	likeLiteral likeKind = iota
	likeOne              // _
	likeMany             // %
)

type likeElem struct {
	kind likeKind
	r    rune
}

// compileLike splits a LIKE pattern into elements, honouring an optional
// escape character.
func compileLike(pattern string, escape rune, hasEscape bool) []likeElem {
	var elems []likeElem
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case hasEscape && r == escape && i+1 < len(runes):
			i++
			elems = append(elems, likeElem{kind: likeLiteral, r: runes[i]})
		case r == '_':
			elems = append(elems, likeElem{kind: likeOne})
		case r == '%':
			elems = append(elems, likeElem{kind: likeMany})
		default:
			elems = append(elems, likeElem{kind: likeLiteral, r: r})
		}
	}
	return elems
}

// matchLike performs SQL LIKE matching with single-star backtracking.
func matchLike(pattern []likeElem, value string) bool {
	v := []rune(value)
	pi, vi := 0, 0
	starIdx, matchIdx := -1, 0

	for vi < len(v) {
		if pi < len(pattern) && (pattern[pi].kind == likeOne || (pattern[pi].kind == likeLiteral && pattern[pi].r == v[vi])) {
			pi++
			vi++
		} else if pi < len(pattern) && pattern[pi].kind == likeMany {
			starIdx = pi
			matchIdx = vi
			pi++
		} else if starIdx != -1 {
			pi = starIdx + 1
			matchIdx++
			vi = matchIdx
		} else {
			return false
		}
	}

	for pi < len(pattern) && pattern[pi].kind == likeMany {
		pi++
	}
	return pi == len(pattern)
}
