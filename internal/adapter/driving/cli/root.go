// Package cli is the command-line driving adapter over the session use cases.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/chatvault/internal/application"
	"github.com/ericfisherdev/chatvault/internal/domain/model"
	"github.com/ericfisherdev/chatvault/internal/domain/port/driven"
)

// Session is the subset of application.SessionService the CLI drives.
type Session interface {
	Status(ctx context.Context) application.SessionStatus
	Enroll(ctx context.Context, apiKey, pin string) model.AuthOutcome
	Unlock(ctx context.Context, pin string) model.AuthOutcome
	LoginWithKey(ctx context.Context, apiKey string) model.AuthOutcome
	ChangePin(ctx context.Context, currentPin, newPin string) model.AuthOutcome
	Reset(ctx context.Context) bool
	Client() driven.ChatClient
}

// Compile-time interface satisfaction check.
var _ Session = (*application.SessionService)(nil)

// App is what a command needs once the database and services are open.
type App struct {
	Session Session
	// Serve runs the HTTP API until ctx is cancelled.
	Serve func(ctx context.Context) error
}

// OpenFunc opens the application for one command. The returned close function
// releases every resource and is always called, including on error paths.
type OpenFunc func(ctx context.Context) (*App, func(), error)

// errAborted is returned when the user declines a confirmation prompt.
var errAborted = errors.New("aborted")

// NewRootCommand builds the chatvault command tree. Each subcommand opens the
// application through open and closes it before returning.
func NewRootCommand(open OpenFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "chatvault",
		Short:         "PIN-protected API key vault for OpenRouter and VSEGPT",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand(open))
	root.AddCommand(newLoginCommand(open))
	root.AddCommand(newUnlockCommand(open))
	root.AddCommand(newStatusCommand(open))
	root.AddCommand(newChangePinCommand(open))
	root.AddCommand(newResetCommand(open))
	root.AddCommand(newModelsCommand(open))
	root.AddCommand(newBalanceCommand(open))
	root.AddCommand(newChatCommand(open))

	return root
}

// withApp adapts a command body that needs an open App into a cobra RunE.
func withApp(open OpenFunc, run func(cmd *cobra.Command, args []string, app *App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, closeApp, err := open(cmd.Context())
		if err != nil {
			return err
		}
		defer closeApp()
		return run(cmd, args, app)
	}
}

// unlock opens a session with pin, prompting for it when empty, and returns the
// installed chat client.
func unlock(cmd *cobra.Command, session Session, pin string) (driven.ChatClient, error) {
	if pin == "" {
		var err error
		if pin, err = readSecret(cmd, "PIN: "); err != nil {
			return nil, err
		}
	}

	out := session.Unlock(cmd.Context(), pin)
	if !out.Success {
		return nil, outcomeError(out)
	}

	client := session.Client()
	if client == nil {
		return nil, errors.New("session did not open a chat client")
	}
	return client, nil
}

// outcomeError turns a failed outcome into an error carrying only the user-facing
// text; the underlying cause has already been logged by the service.
func outcomeError(out model.AuthOutcome) error {
	return errors.New(out.Message)
}

// clientError renders a chat client failure with its user-facing text.
func clientError(op string, err error) error {
	var e *model.Error
	if errors.As(err, &e) {
		return fmt.Errorf("%s: %s", op, e.Text())
	}
	return fmt.Errorf("%s: %w", op, err)
}
