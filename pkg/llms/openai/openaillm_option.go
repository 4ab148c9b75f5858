package openai

import (
	"time"

	"github.com/openai/openai-go/v3/option"
)

const (
	DefaultBaseURL        = "https://api.openai.com/v1"
	DefaultMaxRetries     = 2
	DefaultRequestTimeout = 5 * time.Minute
)

// Options for the OpenAI client.
type Options struct {
	Token          string
	Model          string
	BaseURL        string
	Organization   string
	HttpClient     option.HTTPClient
	MaxRetries     int
	RequestTimeout time.Duration
}

// Option is a functional option for the OpenAI client.
type Option func(*Options)

// WithToken passes the OpenAI API token to the client.
func WithToken(token string) Option {
	return func(opts *Options) {
		opts.Token = token
	}
}

// WithModel passes the OpenAI model to the client.
func WithModel(model string) Option {
	return func(opts *Options) {
		opts.Model = model
	}
}

// WithBaseURL passes the OpenAI base url to the client.
// If not set, DefaultBaseURL is used. Any OpenAI compatible endpoint can be used.
func WithBaseURL(baseURL string) Option {
	return func(opts *Options) {
		opts.BaseURL = baseURL
	}
}

// WithOrganization passes the OpenAI organization to the client.
func WithOrganization(organization string) Option {
	return func(opts *Options) {
		opts.Organization = organization
	}
}

// WithHTTPClient allows setting a custom HTTP client. If not set, the default value
// is http.DefaultClient.
func WithHTTPClient(client option.HTTPClient) Option {
	return func(opts *Options) {
		opts.HttpClient = client
	}
}

// WithMaxRetries sets the number of retries of the SDK client, 0 disables retries.
func WithMaxRetries(n int) Option {
	return func(opts *Options) {
		opts.MaxRetries = n
	}
}

// WithRequestTimeout sets the timeout of a single request.
func WithRequestTimeout(d time.Duration) Option {
	return func(opts *Options) {
		opts.RequestTimeout = d
	}
}
