package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Protocol-Lattice/fingpt-relay/src/relay"
)

type askOptions struct {
	message      string
	stdin        bool
	json         bool
	conversation string
}

func newAskCmd(v *viper.Viper) *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask [files...]",
		Short: "Relay one message, with optional attachments, and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(v)
			if err != nil {
				return err
			}
			if err := cfg.ValidateBackend(); err != nil {
				return err
			}
			msg, err := getMessage(opts.message, opts.stdin, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if strings.TrimSpace(msg) == "" && len(args) == 0 {
				return errors.New("no message and no files provided")
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Warn("shutdown_error", "error", err.Error())
				}
			}()

			res, err := a.relay.Relay(ctx, relay.InboundPayload{
				ConversationID: opts.conversation,
				Text:           msg,
				Files:          args,
			})
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res, cfg.Backend.Provider, cfg.Backend.Model, opts.json)
		},
	}
	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "User message (ignored if --stdin is set).")
	cmd.Flags().BoolVar(&opts.stdin, "stdin", false, "Read the user message from STDIN.")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print JSON {response, files, provider, model}.")
	cmd.Flags().StringVar(&opts.conversation, "conversation", "cli", "Conversation key; reuse it to continue a session.")
	return cmd
}

func getMessage(flagMsg string, useStdin bool, r io.Reader) (string, error) {
	if !useStdin {
		return flagMsg, nil
	}
	var b strings.Builder
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		b.WriteString(sc.Text())
		b.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func printResult(w io.Writer, res relay.Result, provider, model string, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"response": res.Text,
			"files":    res.Files,
			"document": res.Document,
			"provider": provider,
			"model":    model,
		})
	}
	if res.Text != "" {
		if _, err := fmt.Fprintln(w, res.Text); err != nil {
			return err
		}
	}
	for _, f := range res.Files {
		if _, err := fmt.Fprintln(w, f); err != nil {
			return err
		}
	}
	return nil
}
