package ai

import (
	"context"

	"github.com/zhouzirui/xiaohao/backend/internal/model/chat"
)

// Options are the generation parameters sent with every completion.
type Options struct {
	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
}

// Profiles holds the two option sets selected by the deep-thinking flag.
type Profiles struct {
	Normal Options
	Deep   Options
}

// DefaultProfiles returns the stock generation parameters.
func DefaultProfiles() Profiles {
	normal := Options{Temperature: 0.7, TopP: 0.9, TopK: 40, MaxOutputTokens: 1024}
	deep := normal
	deep.MaxOutputTokens = 2048
	return Profiles{Normal: normal, Deep: deep}
}

// For picks the profile for the given mode.
func (p Profiles) For(deep bool) Options {
	if deep {
		return p.Deep
	}
	return p.Normal
}

// Response is what a backend returns. Message is nil when the backend
// answered without a reply.
type Response struct {
	Message *chat.Message
}

// Backend is a chat completion provider.
type Backend interface {
	Complete(ctx context.Context, messages []chat.Message, opts Options) (*Response, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, messages []chat.Message, opts Options) (*Response, error)

func (f BackendFunc) Complete(ctx context.Context, messages []chat.Message, opts Options) (*Response, error) {
	return f(ctx, messages, opts)
}
