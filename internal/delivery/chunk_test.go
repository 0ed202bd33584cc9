package delivery

import (
	"strings"
	"testing"
)

func TestSplitChunksShortContentUntouched(t *testing.T) {
	t.Parallel()
	got := splitChunks("hello\nworld", 100)
	if len(got) != 1 || got[0] != "hello\nworld" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitChunksPrefersLineBoundaries(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("line with some words in it\n")
	}
	chunks := splitChunks(b.String(), 200)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := len([]rune(c)); n > 200 {
			t.Fatalf("chunk %d has %d runes, limit 200", i, n)
		}
		// Boundaries fall between lines, so chunks hold whole lines.
		for _, line := range strings.Split(c, "\n") {
			if line != "" && line != "line with some words in it" {
				t.Fatalf("chunk %d contains a split line: %q", i, line)
			}
		}
	}
}

func TestSplitChunksPreservesOrder(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString(strings.Repeat("x", i%7+1))
		b.WriteString(" item\n")
	}
	in := b.String()
	chunks := splitChunks(in, 120)

	joined := strings.Join(chunks, "\n") + "\n"
	// Chunking may trim trailing newlines per chunk but never reorders or
	// drops content lines.
	wantLines := strings.Fields(strings.ReplaceAll(in, "\n", " "))
	gotLines := strings.Fields(strings.ReplaceAll(joined, "\n", " "))
	if len(wantLines) != len(gotLines) {
		t.Fatalf("token count changed: want %d got %d", len(wantLines), len(gotLines))
	}
	for i := range wantLines {
		if wantLines[i] != gotLines[i] {
			t.Fatalf("token %d reordered: want %q got %q", i, wantLines[i], gotLines[i])
		}
	}
}

func TestSplitChunksNeverSplitsFencedBlock(t *testing.T) {
	t.Parallel()

	fence := "```\n" + strings.Repeat("code line\n", 8) + "```\n"
	text := strings.Repeat("before text\n", 10) + fence + strings.Repeat("after text\n", 10)

	chunks := splitChunks(text, 120)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	found := 0
	for _, c := range chunks {
		opens := strings.Count(c, "```")
		if opens == 0 {
			continue
		}
		if opens != 2 {
			t.Fatalf("fence split across chunks: %q", c)
		}
		found++
	}
	if found != 1 {
		t.Fatalf("fence appeared in %d chunks, want 1", found)
	}
}

func TestSplitChunksOversizedFenceEmittedWhole(t *testing.T) {
	t.Parallel()

	fence := "```\n" + strings.Repeat("very long code line\n", 30) + "```"
	chunks := splitChunks("intro\n"+fence, 100)

	found := false
	for _, c := range chunks {
		if strings.Count(c, "```") == 2 {
			found = true
		} else if strings.Contains(c, "```") {
			t.Fatalf("oversized fence was broken open: %q", c)
		}
	}
	if !found {
		t.Fatal("oversized fence missing from output")
	}
}

func TestSegmentRoundTrips(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
	}{
		{name: "plain", in: "a\nb\nc\n"},
		{name: "fence in middle", in: "a\n```\ncode\n```\nb\n"},
		{name: "unterminated fence", in: "a\n```\ncode goes on"},
		{name: "leading fence", in: "```go\nf()\n```\ntail"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var b strings.Builder
			for _, seg := range segment(tt.in) {
				b.WriteString(seg.text)
			}
			if b.String() != tt.in {
				t.Fatalf("segments don't reassemble:\n in=%q\nout=%q", tt.in, b.String())
			}
		})
	}
}
