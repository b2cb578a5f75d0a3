package reporting

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

type Options struct {
	DSN         string
	Environment string
	Release     string
	Debug       bool
}

// Reporter sends captured errors to Sentry. Without a DSN every call is a no-op.
type Reporter struct {
	hub *sentry.Hub
}

func New(opts Options) (*Reporter, error) {
	if opts.DSN == "" {
		return &Reporter{}, nil
	}
	environment := opts.Environment
	if environment == "" {
		environment = "production"
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      environment,
		Release:          opts.Release,
		Debug:            opts.Debug,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Sentry: %w", err)
	}
	return newReporter(client), nil
}

func newReporter(client *sentry.Client) *Reporter {
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}
}

func (r *Reporter) Enabled() bool {
	return r != nil && r.hub != nil && r.hub.Client() != nil
}

// CaptureError captures an error tagged with tags.
func (r *Reporter) CaptureError(err error, tags map[string]string) {
	if !r.Enabled() || err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		r.hub.CaptureException(err)
	})
}

// Flush waits for all events to be sent
func (r *Reporter) Flush(timeout time.Duration) {
	if r.Enabled() {
		r.hub.Flush(timeout)
	}
}
