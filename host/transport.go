package host

import (
	"context"
	"fmt"

	"github.com/ruteri/tee-wallet-kms/interfaces"
	"github.com/ruteri/tee-wallet-kms/ta"
)

// Result is the outcome of a command that reached the trusted application.
type Result struct {
	Status   ta.Status
	Output   []byte
	Required int
}

// Err converts a non-success status into a *ta.StatusError carrying the
// diagnostic text the TA wrote.
func (r Result) Err() error {
	if r.Status == ta.StatusSuccess {
		return nil
	}
	return &ta.StatusError{Status: r.Status, Message: string(r.Output), Required: r.Required}
}

// Transport carries session and command calls to a trusted application.
// An error from Invoke means the command may or may not have run; a TA
// level failure is reported in Result instead.
type Transport interface {
	OpenSession(ctx context.Context) (uint32, error)
	Invoke(ctx context.Context, sessionID uint32, cmd interfaces.CommandID, input []byte, outputCapacity int) (Result, error)
	CloseSession(ctx context.Context, sessionID uint32) error
}

// LocalTransport talks to an in-process TrustedApp. Commands cannot be
// cancelled once dispatched: when ctx ends first the call returns
// ErrTimeout while the command keeps running to completion.
type LocalTransport struct {
	app *ta.TrustedApp
}

func NewLocalTransport(app *ta.TrustedApp) *LocalTransport {
	return &LocalTransport{app: app}
}

func (t *LocalTransport) OpenSession(ctx context.Context) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: open session: %v", interfaces.ErrTimeout, err)
	}
	return t.app.OpenSession()
}

func (t *LocalTransport) Invoke(ctx context.Context, sessionID uint32, cmd interfaces.CommandID, input []byte, outputCapacity int) (Result, error) {
	p, err := ta.NewParams(input, outputCapacity)
	if err != nil {
		return Result{}, err
	}

	done := make(chan ta.Status, 1)
	go func() {
		done <- t.app.InvokeCommand(context.WithoutCancel(ctx), sessionID, cmd, p)
	}()

	select {
	case status := <-done:
		return Result{Status: status, Output: p.Output(), Required: p.Required()}, nil
	case <-ctx.Done():
		return Result{}, fmt.Errorf("%w: %s on session %d: %v", interfaces.ErrTimeout, cmd, sessionID, ctx.Err())
	}
}

// CloseSession waits for an in-flight command on the session, bounded by ctx.
func (t *LocalTransport) CloseSession(ctx context.Context, sessionID uint32) error {
	done := make(chan error, 1)
	go func() {
		done <- t.app.CloseSession(sessionID)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: close session %d: %v", interfaces.ErrTimeout, sessionID, ctx.Err())
	}
}
