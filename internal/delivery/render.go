package delivery

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"briefbot/internal/summarize"
	"briefbot/internal/task"
	"briefbot/internal/transport"
)

// rendered is channel-post content ready to send: ordered chunks plus the
// parse mode they were rendered for.
type rendered struct {
	chunks []string
	opt    *transport.PostOptions
}

// renderChannel prepares an artifact for a ChannelPost destination.
//
// Chunking happens on the raw body first (fence-aware), then each chunk is
// converted to its final representation, so atomic blocks stay intact and
// HTML tags stay balanced per message.
func renderChannel(a *summarize.Artifact, format task.Format, limit int) rendered {
	switch format {
	case task.FormatEmbed:
		header := "<b>" + html.EscapeString(headline(a)) + "</b>\n<i>" + html.EscapeString(windowLine(a)) + "</i>\n\n"
		chunks := htmlChunks(a.Body, limit-len([]rune(header)))
		if len(chunks) == 0 {
			chunks = []string{strings.TrimSuffix(header, "\n\n")}
		} else {
			chunks[0] = header + chunks[0]
		}
		return rendered{chunks: chunks, opt: &transport.PostOptions{ParseMode: "HTML", DisablePreview: true}}

	case task.FormatJSON:
		b, err := json.MarshalIndent(a, "", "  ")
		if err != nil {
			b = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
		}
		// One atomic block; never split a JSON document across messages.
		return rendered{chunks: []string{string(b)}, opt: &transport.PostOptions{DisablePreview: true}}

	default: // FormatMarkdown
		text := headline(a) + "\n" + windowLine(a) + "\n\n" + a.Body
		return rendered{chunks: splitChunks(text, limit), opt: &transport.PostOptions{DisablePreview: true}}
	}
}

func headline(a *summarize.Artifact) string {
	if strings.TrimSpace(a.Title) != "" {
		return a.Title
	}
	return "Summary: " + a.SourceRef
}

func windowLine(a *summarize.Artifact) string {
	const f = "2006-01-02 15:04 MST"
	return a.Window.From.Format(f) + " — " + a.Window.To.Format(f)
}

// htmlChunks splits raw text for HTML parse mode, keeping every RENDERED
// chunk within limit. Escaping ("&" to "&amp;") and the pre/code wrappers
// grow text past a raw-rune split, so a raw-budget split alone cannot bound
// the wire size.
func htmlChunks(text string, limit int) []string {
	var out []string
	for _, c := range splitChunks(text, limit) {
		out = append(out, fitHTMLChunk(c, limit)...)
	}
	return out
}

// fitHTMLChunk renders one raw chunk, re-splitting with a budget scaled by
// the observed expansion whenever the rendered form overflows.
func fitHTMLChunk(c string, limit int) []string {
	h := htmlify(c)
	if limit <= 0 || len([]rune(h)) <= limit {
		return []string{h}
	}
	rawLen := len([]rune(c))
	budget := rawLen * limit / len([]rune(h))
	if budget < 1 {
		budget = 1
	}
	if budget >= rawLen {
		budget = rawLen - 1
	}
	parts := splitChunks(c, budget)
	if len(parts) == 1 && parts[0] == c {
		// An atomic fence whose rendered form overflows. Ship it whole,
		// the same policy splitChunks applies to oversized fences.
		return []string{h}
	}
	var out []string
	for _, p := range parts {
		out = append(out, fitHTMLChunk(p, limit)...)
	}
	return out
}

// htmlify escapes a raw chunk for Telegram HTML parse mode, turning fenced
// blocks into <pre><code> sections.
func htmlify(chunk string) string {
	var b strings.Builder
	for _, seg := range segment(chunk) {
		if seg.fenced {
			b.WriteString("<pre><code>")
			b.WriteString(html.EscapeString(stripFence(seg.text)))
			b.WriteString("</code></pre>\n")
			continue
		}
		b.WriteString(html.EscapeString(seg.text))
	}
	return strings.TrimRight(b.String(), "\n")
}

// stripFence drops the opening and closing ``` lines, keeping the body.
func stripFence(s string) string {
	lines := splitKeepNewlines(s)
	if len(lines) > 0 && strings.HasPrefix(strings.TrimLeft(lines[0], " \t"), "```") {
		lines = lines[1:]
	}
	if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimLeft(lines[n-1], " \t"), "```") {
		lines = lines[:n-1]
	}
	return strings.Join(lines, "")
}

// webhookBody renders the artifact payload for a Webhook destination.
func webhookBody(a *summarize.Artifact, format task.Format, taskID string, kind task.Kind) (contentType string, body []byte, err error) {
	switch format {
	case task.FormatMarkdown:
		text := headline(a) + "\n" + windowLine(a) + "\n\n" + a.Body
		return "text/markdown; charset=utf-8", []byte(text), nil
	default: // FormatJSON and FormatEmbed both ship the structured payload
		payload := struct {
			TaskID      string              `json:"task_id"`
			Kind        task.Kind           `json:"kind"`
			DeliveredAt time.Time           `json:"delivered_at"`
			Artifact    *summarize.Artifact `json:"artifact"`
		}{TaskID: taskID, Kind: kind, DeliveredAt: time.Now().UTC(), Artifact: a}
		b, err := json.Marshal(payload)
		if err != nil {
			return "", nil, err
		}
		return "application/json", b, nil
	}
}
