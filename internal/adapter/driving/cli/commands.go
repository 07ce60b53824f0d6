package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/chatvault/internal/domain/model"
)

func newServeCommand(open OpenFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local JSON API",
		Args:  cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, _ []string, app *App) error {
			if app.Serve == nil {
				return errors.New("serve is not available")
			}
			return app.Serve(cmd.Context())
		}),
	}
}

func newLoginCommand(open OpenFunc) *cobra.Command {
	var apiKey, pin string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Enroll an API key or replace the stored key for its provider",
		Long: "Validates the key against its provider and stores it encrypted.\n" +
			"On a new device a PIN is generated (or taken from --pin) and printed once.\n" +
			"On an enrolled device the existing PIN is kept.",
		Args: cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, _ []string, app *App) error {
			if apiKey == "" {
				var err error
				if apiKey, err = readSecret(cmd, "API key: "); err != nil {
					return err
				}
			}

			var out model.AuthOutcome
			if pin != "" {
				if app.Session.Status(cmd.Context()).Authenticated {
					return errors.New("--pin is only accepted on first enrollment; use change-pin instead")
				}
				out = app.Session.Enroll(cmd.Context(), apiKey, pin)
			} else {
				out = app.Session.LoginWithKey(cmd.Context(), apiKey)
			}
			if !out.Success {
				return outcomeError(out)
			}

			w := cmd.OutOrStdout()
			provider := model.DetectProvider(apiKey)
			if model.IsValidPin(out.Message) {
				fmt.Fprintf(w, "Enrolled %s key. Your PIN is %s; keep it safe, it will not be shown again.\n",
					provider.DisplayName(), out.Message)
			} else {
				fmt.Fprintf(w, "%s (%s)\n", out.Message, provider.DisplayName())
			}
			if out.Balance != "" {
				fmt.Fprintf(w, "Balance: %s\n", out.Balance)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&apiKey, "key", "", "API key (prompted when omitted)")
	cmd.Flags().StringVar(&pin, "pin", "", "4-digit PIN to use instead of a generated one")
	return cmd
}

func newUnlockCommand(open OpenFunc) *cobra.Command {
	var pin string
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Check the PIN and show the unlocked provider and balance",
		Args:  cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, _ []string, app *App) error {
			client, err := unlock(cmd, app.Session, pin)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unlocked %s. Balance: %s\n",
				client.Provider().DisplayName(), client.GetBalance(cmd.Context(), false))
			return nil
		}),
	}
	cmd.Flags().StringVar(&pin, "pin", "", "4-digit PIN (prompted when omitted)")
	return cmd
}

func newStatusCommand(open OpenFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a key is enrolled on this device",
		Args:  cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, _ []string, app *App) error {
			st := app.Session.Status(cmd.Context())
			w := cmd.OutOrStdout()
			if !st.Authenticated {
				fmt.Fprintln(w, "Not enrolled. Run `chatvault login` with an API key.")
				return nil
			}

			names := make([]string, 0, len(st.Providers))
			for _, p := range st.Providers {
				names = append(names, p.DisplayName())
			}
			fmt.Fprintln(w, "Enrolled")
			fmt.Fprintf(w, "Current provider: %s\n", st.Provider.DisplayName())
			fmt.Fprintf(w, "Stored keys: %s\n", strings.Join(names, ", "))
			return nil
		}),
	}
}

func newChangePinCommand(open OpenFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "change-pin",
		Short: "Replace the PIN that unlocks every stored key",
		Args:  cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, _ []string, app *App) error {
			current, err := readSecret(cmd, "Current PIN: ")
			if err != nil {
				return err
			}
			next, err := readSecret(cmd, "New PIN: ")
			if err != nil {
				return err
			}
			again, err := readSecret(cmd, "Repeat new PIN: ")
			if err != nil {
				return err
			}
			if next != again {
				return errors.New("new PINs do not match")
			}

			out := app.Session.ChangePin(cmd.Context(), current, next)
			if !out.Success {
				return outcomeError(out)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Message)
			return nil
		}),
	}
}

func newResetCommand(open OpenFunc) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every stored key and the PIN",
		Args:  cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, _ []string, app *App) error {
			if !yes {
				ok, err := confirm(cmd, "Delete all stored API keys?")
				if err != nil {
					return err
				}
				if !ok {
					return errAborted
				}
			}

			if !app.Session.Reset(cmd.Context()) {
				return errors.New("failed to reset authentication data")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All stored keys deleted")
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func newModelsCommand(open OpenFunc) *cobra.Command {
	var pin string
	var refresh bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models offered by the current provider",
		Args:  cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, _ []string, app *App) error {
			client, err := unlock(cmd, app.Session, pin)
			if err != nil {
				return err
			}

			models, err := client.GetModels(cmd.Context(), refresh)
			if err != nil {
				return clientError("list models", err)
			}

			w := cmd.OutOrStdout()
			for _, m := range models {
				if m.ContextLength > 0 {
					fmt.Fprintf(w, "%s\t%s\t%d\n", m.ID, m.Name, m.ContextLength)
				} else {
					fmt.Fprintf(w, "%s\t%s\n", m.ID, m.Name)
				}
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&pin, "pin", "", "4-digit PIN (prompted when omitted)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the cached model list")
	return cmd
}

func newBalanceCommand(open OpenFunc) *cobra.Command {
	var pin string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the current provider balance",
		Args:  cobra.NoArgs,
		RunE: withApp(open, func(cmd *cobra.Command, _ []string, app *App) error {
			client, err := unlock(cmd, app.Session, pin)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), client.GetBalance(cmd.Context(), true))
			return nil
		}),
	}
	cmd.Flags().StringVar(&pin, "pin", "", "4-digit PIN (prompted when omitted)")
	return cmd
}

func newChatCommand(open OpenFunc) *cobra.Command {
	var pin, modelID string
	cmd := &cobra.Command{
		Use:   "chat <message>...",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(open, func(cmd *cobra.Command, args []string, app *App) error {
			client, err := unlock(cmd, app.Session, pin)
			if err != nil {
				return err
			}

			res, err := client.SendMessage(cmd.Context(), strings.Join(args, " "), modelID)
			if err != nil {
				return clientError("send message", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), res.Content)
			if res.Usage.TotalTokens > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "tokens: %d prompt, %d completion, %d total\n",
					res.Usage.PromptTokens, res.Usage.CompletionTokens, res.Usage.TotalTokens)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&pin, "pin", "", "4-digit PIN (prompted when omitted)")
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "model id")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}
