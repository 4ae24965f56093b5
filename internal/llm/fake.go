package llm

import (
	"context"
	"sync"
)

// FakeClient returns scripted responses in order and records every request.
// When the script runs out it repeats the last entry.
type FakeClient struct {
	mu        sync.Mutex
	responses []*Response
	errs      []error
	requests  []Request
	Handler   func(Request) (*Response, error)
}

// NewFakeClient scripts a sequence of responses.
func NewFakeClient(responses ...*Response) *FakeClient {
	return &FakeClient{responses: responses}
}

// NewFakeText scripts a single plain-text assistant reply.
func NewFakeText(content string) *FakeClient {
	return NewFakeClient(TextResponse(content))
}

// FailWith makes every call return err.
func (f *FakeClient) FailWith(err error) *FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = []error{err}
	return f
}

func (f *FakeClient) Name() string { return "fake" }

func (f *FakeClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.requests)
	f.requests = append(f.requests, req)

	if f.Handler != nil {
		return f.Handler(req)
	}
	if len(f.errs) > 0 {
		return nil, f.errs[min(idx, len(f.errs)-1)]
	}
	if len(f.responses) == 0 {
		return &Response{Model: req.Model}, nil
	}
	return f.responses[min(idx, len(f.responses)-1)], nil
}

// Requests returns a copy of the recorded requests.
func (f *FakeClient) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

// TextResponse builds a single-choice response with content and finish reason "stop".
func TextResponse(content string) *Response {
	return &Response{
		Model: "fake-model",
		Choices: []Choice{{
			Message:      Message{Role: RoleAssistant, Content: content},
			FinishReason: "stop",
		}},
		Usage: Usage{InputTokens: 10, OutputTokens: len(content) / 4},
	}
}
