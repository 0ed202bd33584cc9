package summarize

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"briefbot/pkg/logx"
)

func TestClientStatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		status       int
		body         string
		wantArtifact bool
		wantInsuff   bool
		wantTrans    bool
		wantRequest  bool
	}{
		{name: "ok", status: http.StatusOK, body: `{"body":"hello world","item_count":3}`, wantArtifact: true},
		{name: "no content", status: http.StatusNoContent, wantInsuff: true},
		{name: "unprocessable", status: http.StatusUnprocessableEntity, body: `{"detail":"window too small"}`, wantInsuff: true},
		{name: "empty body counts as insufficient", status: http.StatusOK, body: `{"body":"  "}`, wantInsuff: true},
		{name: "rate limited", status: http.StatusTooManyRequests, wantTrans: true},
		{name: "upstream down", status: http.StatusBadGateway, wantTrans: true},
		{name: "bad request is non-retryable", status: http.StatusBadRequest, body: `{"error":"bad ref"}`, wantRequest: true},
		{name: "unauthorized is non-retryable", status: http.StatusUnauthorized, wantRequest: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 2 * time.Second}, logx.Nop())
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}

			now := time.Now()
			a, err := c.Summarize(context.Background(), "chan-1", Window{From: now.Add(-time.Hour), To: now}, Options{})

			if tt.wantArtifact {
				if err != nil {
					t.Fatalf("Summarize: %v", err)
				}
				if a.Body != "hello world" || a.SourceRef != "chan-1" {
					t.Fatalf("artifact = %+v", a)
				}
				return
			}
			if err == nil {
				t.Fatal("want error, got artifact")
			}
			if got := IsInsufficientInput(err); got != tt.wantInsuff {
				t.Fatalf("IsInsufficientInput = %v, want %v (err=%v)", got, tt.wantInsuff, err)
			}
			var te *TransientError
			if got := errors.As(err, &te); got != tt.wantTrans {
				t.Fatalf("transient = %v, want %v (err=%v)", got, tt.wantTrans, err)
			}
			var re *RequestError
			if got := errors.As(err, &re); got != tt.wantRequest {
				t.Fatalf("request error = %v, want %v (err=%v)", got, tt.wantRequest, err)
			}
			if tt.wantRequest && re.Status != tt.status {
				t.Fatalf("request error status = %d, want %d", re.Status, tt.status)
			}
		})
	}
}
