package notify

import (
	"context"
	"errors"
	"time"

	"github.com/dan-v/rattlesnakeos-builder/internal/runner"
	log "github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single notification attempt
const DefaultTimeout = 30 * time.Second

// Notifier delivers a human readable message to the operator
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Send delivers message through n and only logs failures. Notifications must never
// fail the caller.
func Send(ctx context.Context, n Notifier, message string) {
	if n == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultTimeout)
	defer cancel()

	if err := n.Notify(ctx, message); err != nil {
		log.WithError(err).Warnf("failed to send notification %q", message)
	}
}

// Nop discards every message
type Nop struct{}

// Notify does nothing
func (Nop) Notify(ctx context.Context, message string) error {
	return nil
}

// Multi fans a message out to every notifier and joins their errors
type Multi []Notifier

// Notify sends message to every notifier, even if an earlier one failed
func (m Multi) Notify(ctx context.Context, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Apprise delivers messages with the apprise CLI
type Apprise struct {
	runner runner.Runner
	title  string
	urls   []string
}

// NewApprise returns an Apprise notifier posting to urls
func NewApprise(r runner.Runner, title string, urls []string) *Apprise {
	return &Apprise{
		runner: r,
		title:  title,
		urls:   urls,
	}
}

// Notify runs apprise once with every configured url
func (a *Apprise) Notify(ctx context.Context, message string) error {
	if len(a.urls) == 0 {
		return nil
	}
	args := []string{"-t", a.title, "-b", message}
	args = append(args, a.urls...)
	return a.runner.Run(ctx, runner.Command{Name: "apprise", Args: args})
}
