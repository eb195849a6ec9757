package server

import "strings"

// Compact cell-list codec. Bodies and food state persist as the JSON string
// "[[x0,y0],[x1,y1],...]" head-first. The format is produced and consumed
// only by this system: the decoder tolerates whitespace and trailing garbage
// but does not handle escaping.

// encodeCells renders cells in order.
func encodeCells(cells []Vec2) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, c := range cells {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('[')
		writeInt(&b, c.X)
		b.WriteByte(',')
		writeInt(&b, c.Y)
		b.WriteByte(']')
	}
	b.WriteByte(']')
	return b.String()
}

// decodeCells parses as many well-formed pairs as it can and stops at the
// first malformed token.
func decodeCells(s string) []Vec2 {
	var out []Vec2
	i := 0

	skipWS := func() {
		for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
			i++
		}
	}
	readInt := func() (int, bool) {
		skipWS()
		start := i
		if i < len(s) && s[i] == '-' {
			i++
		}
		digits := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == digits {
			return 0, false
		}
		value := 0
		for _, ch := range s[digits:i] {
			value = value*10 + int(ch-'0')
		}
		if s[start] == '-' {
			value = -value
		}
		return value, true
	}

	skipWS()
	if i >= len(s) || s[i] != '[' {
		return out
	}
	i++
	for i < len(s) {
		skipWS()
		if i < len(s) && s[i] == ']' {
			break
		}
		if i >= len(s) || s[i] != '[' {
			break
		}
		i++

		x, ok := readInt()
		if !ok {
			break
		}
		skipWS()
		if i >= len(s) || s[i] != ',' {
			break
		}
		i++
		y, ok := readInt()
		if !ok {
			break
		}
		skipWS()
		if i >= len(s) || s[i] != ']' {
			break
		}
		i++

		out = append(out, Vec2{X: x, Y: y})
		skipWS()
		if i < len(s) && s[i] == ',' {
			i++
		}
	}
	return out
}

func writeInt(b *strings.Builder, v int) {
	if v < 0 {
		b.WriteByte('-')
		v = -v
	}
	if v >= 10 {
		writeInt(b, v/10)
	}
	b.WriteByte(byte('0' + v%10))
}

func encodeFoods(foods []Food) string {
	cells := make([]Vec2, len(foods))
	for i, f := range foods {
		cells[i] = f.Cell()
	}
	return encodeCells(cells)
}

func decodeFoods(s string) []Food {
	cells := decodeCells(s)
	foods := make([]Food, len(cells))
	for i, c := range cells {
		foods[i] = Food{X: c.X, Y: c.Y}
	}
	return foods
}
