package delivery

import "strings"

// splitChunks splits content into ordered chunks of at most limit runes.
//
// Fenced ``` blocks are atomic: a chunk boundary never falls inside one.
// Plain text prefers newline boundaries. A single fenced block larger than
// the limit is emitted as its own oversized chunk rather than broken open.
func splitChunks(content string, limit int) []string {
	if limit <= 0 || len([]rune(content)) <= limit {
		if content == "" {
			return nil
		}
		return []string{content}
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		s := strings.TrimRight(cur.String(), "\n")
		if s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
		curLen = 0
	}

	appendPiece := func(piece string) {
		n := len([]rune(piece))
		if curLen > 0 && curLen+n > limit {
			flush()
		}
		cur.WriteString(piece)
		curLen += n
	}

	for _, seg := range segment(content) {
		n := len([]rune(seg.text))
		if seg.fenced {
			// Atomic: fits in the current chunk, a fresh chunk, or goes out
			// oversized on its own.
			if curLen > 0 && curLen+n > limit {
				flush()
			}
			if n > limit {
				flush()
				chunks = append(chunks, strings.TrimRight(seg.text, "\n"))
				continue
			}
			cur.WriteString(seg.text)
			curLen += n
			continue
		}

		if n <= limit-curLen {
			cur.WriteString(seg.text)
			curLen += n
			continue
		}
		// Split plain text on newlines, packing lines into chunks.
		for _, line := range splitKeepNewlines(seg.text) {
			ln := len([]rune(line))
			if ln > limit {
				// A single huge line: hard-split by runes.
				rs := []rune(line)
				for len(rs) > 0 {
					take := limit - curLen
					if take <= 0 {
						flush()
						take = limit
					}
					if take > len(rs) {
						take = len(rs)
					}
					appendPiece(string(rs[:take]))
					rs = rs[take:]
				}
				continue
			}
			appendPiece(line)
		}
	}
	flush()
	return chunks
}

type chunkSegment struct {
	text   string
	fenced bool
}

// segment splits content into alternating plain and fenced-block segments.
// A fence opens and closes on a line beginning with ```; an unterminated
// fence runs to the end of the content.
func segment(content string) []chunkSegment {
	var segs []chunkSegment
	lines := splitKeepNewlines(content)

	var buf strings.Builder
	fenced := false
	flush := func() {
		if buf.Len() > 0 {
			segs = append(segs, chunkSegment{text: buf.String(), fenced: fenced})
			buf.Reset()
		}
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), "```") {
			if !fenced {
				flush()
				fenced = true
				buf.WriteString(line)
			} else {
				buf.WriteString(line)
				flush()
				fenced = false
			}
			continue
		}
		buf.WriteString(line)
	}
	flush()
	return segs
}

// splitKeepNewlines splits s after each '\n', keeping the newline attached
// so rejoining segments reproduces the original text.
func splitKeepNewlines(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
