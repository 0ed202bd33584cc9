package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"briefbot/pkg/logx"
)

// ClientConfig points at the external summarizer endpoint.
type ClientConfig struct {
	BaseURL string
	Token   string // optional bearer token
	Timeout time.Duration
}

// Client calls a summarizer service over HTTP.
//
// Status mapping:
//   - 200: artifact
//   - 204, 422: insufficient input (non-retryable)
//   - 429, 5xx, transport errors: transient (retryable)
//   - other 4xx: non-retryable (RequestError)
type Client struct {
	cfg  ClientConfig
	log  logx.Logger
	http *http.Client
}

func NewClient(cfg ClientConfig, log logx.Logger) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("summarizer base_url is empty")
	}
	cfg.BaseURL = strings.TrimRight(base, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		log:  log,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type summarizeRequest struct {
	SourceRef string    `json:"source_ref"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	MaxLength int       `json:"max_length,omitempty"`
	Language  string    `json:"language,omitempty"`
}

func (c *Client) Summarize(ctx context.Context, sourceRef string, w Window, opts Options) (*Artifact, error) {
	body, err := json.Marshal(summarizeRequest{
		SourceRef: sourceRef,
		From:      w.From.UTC(),
		To:        w.To.UTC(),
		MaxLength: opts.MaxLength,
		Language:  opts.Language,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/summaries", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := strings.TrimSpace(c.cfg.Token); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		// Deadline/cancel from the caller shouldn't be reclassified.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Transient("request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var a Artifact
		if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&a); err != nil {
			return nil, Transient("malformed response", err)
		}
		if strings.TrimSpace(a.Body) == "" {
			return nil, InsufficientInput("empty summary body")
		}
		if a.SourceRef == "" {
			a.SourceRef = sourceRef
		}
		if a.Window == (Window{}) {
			a.Window = w
		}
		if a.GeneratedAt.IsZero() {
			a.GeneratedAt = time.Now().UTC()
		}
		c.log.Debug("summary produced",
			logx.String("source", sourceRef),
			logx.Int("items", a.ItemCount),
			logx.Duration("took", time.Since(start)))
		return &a, nil

	case resp.StatusCode == http.StatusNoContent, resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, InsufficientInput(readDetail(resp.Body))

	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, Transient(fmt.Sprintf("upstream status %d", resp.StatusCode), nil)

	default:
		return nil, &RequestError{Status: resp.StatusCode, Detail: readDetail(resp.Body)}
	}
}

func readDetail(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	var e struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil {
		if e.Detail != "" {
			return e.Detail
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return strings.TrimSpace(string(b))
}
