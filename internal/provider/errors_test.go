package provider

import (
	"context"
	"errors"
	"net"
	"net/url"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantAuth      bool
		wantTransient bool
	}{
		{"nil", nil, false, false},
		{"401", &openai.APIError{HTTPStatusCode: 401, Message: "bad key"}, true, false},
		{"403", &openai.APIError{HTTPStatusCode: 403, Message: "forbidden"}, true, false},
		{"429", &openai.APIError{HTTPStatusCode: 429, Message: "rate limited"}, false, true},
		{"500", &openai.APIError{HTTPStatusCode: 500, Message: "oops"}, false, true},
		{"503", &openai.APIError{HTTPStatusCode: 503, Message: "overloaded"}, false, true},
		{"400 passes through", &openai.APIError{HTTPStatusCode: 400, Message: "bad request"}, false, false},
		{"plain error passes through", errors.New("boom"), false, false},
		{"connect refused", &url.Error{
			Op: "Post", URL: "https://api.openai.com/v1/chat/completions",
			Err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
		}, false, true},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "api.openai.com"}, false, true},
		{"cancelled request passes through", &url.Error{
			Op: "Post", URL: "https://api.openai.com/v1/chat/completions",
			Err: context.Canceled,
		}, false, false},
		{"deadline exceeded passes through", &url.Error{
			Op: "Post", URL: "https://api.openai.com/v1/chat/completions",
			Err: context.DeadlineExceeded,
		}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err)

			var auth *AuthError
			if gotAuth := errors.As(got, &auth); gotAuth != tt.wantAuth {
				t.Errorf("auth = %v, want %v", gotAuth, tt.wantAuth)
			}
			var transient *TransientError
			if gotTransient := errors.As(got, &transient); gotTransient != tt.wantTransient {
				t.Errorf("transient = %v, want %v", gotTransient, tt.wantTransient)
			}
			if !tt.wantAuth && !tt.wantTransient && !errors.Is(got, tt.err) && tt.err != nil {
				t.Errorf("unclassified error was rewritten: %v", got)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if retryable(&AuthError{Status: 401}) {
		t.Error("auth errors must not be retried")
	}
	if !retryable(&TransientError{Status: 429}) {
		t.Error("transient errors must be retried")
	}
	if retryable(errors.New("boom")) {
		t.Error("unclassified errors must not be retried")
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	p := DefaultBackoff()

	if d := p.delayWithRand(1, 0); d.Milliseconds() != 1000 {
		t.Errorf("attempt 1 base delay = %v, want 1s", d)
	}
	if d := p.delayWithRand(2, 0); d.Milliseconds() != 2000 {
		t.Errorf("attempt 2 base delay = %v, want 2s", d)
	}
	// Deep attempts clamp to the cap regardless of jitter.
	if d := p.delayWithRand(10, 0.99); d.Milliseconds() != 10000 {
		t.Errorf("attempt 10 delay = %v, want cap 10s", d)
	}
	// Jitter only extends the delay.
	base := p.delayWithRand(2, 0)
	jittered := p.delayWithRand(2, 0.5)
	if jittered < base {
		t.Errorf("jittered delay %v below base %v", jittered, base)
	}
}
