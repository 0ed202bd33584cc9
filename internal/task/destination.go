package task

import (
	"net/url"
	"strings"
)

// DestType is a closed set of delivery target kinds. Unknown strings fail
// validation instead of surfacing at delivery time.
type DestType string

const (
	DestChannelPost DestType = "channel_post"
	DestWebhook     DestType = "webhook"

	// DestEmail is reserved. Records may carry a disabled email destination
	// (round-trips untouched); enabling one fails validation.
	DestEmail DestType = "email"
)

// Format selects how an artifact is rendered for a destination.
type Format string

const (
	FormatEmbed    Format = "embed"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// Destination is one delivery target of a task. A task owns an ordered list
// of 1..N destinations; disabled ones are skipped at delivery but stay on
// the record.
type Destination struct {
	Type    DestType `json:"type"`
	Target  string   `json:"target"`
	Format  Format   `json:"format"`
	Enabled bool     `json:"enabled"`
}

func (d Destination) Validate() error {
	switch d.Type {
	case DestChannelPost:
		if strings.TrimSpace(d.Target) == "" {
			return invalidf("destination.target", "channel_post requires a channel reference")
		}
	case DestWebhook:
		u, err := url.Parse(strings.TrimSpace(d.Target))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return invalidf("destination.target", "webhook requires an absolute URL, got %q", d.Target)
		}
	case DestEmail:
		if d.Enabled {
			return invalidf("destination.type", "email destinations are reserved and cannot be enabled")
		}
	default:
		return invalidf("destination.type", "unknown type %q", string(d.Type))
	}

	switch d.Format {
	case FormatEmbed, FormatMarkdown, FormatJSON:
	default:
		return invalidf("destination.format", "unknown format %q", string(d.Format))
	}
	return nil
}
