package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ruteri/social-recovery-backend/api/clients"
	"github.com/ruteri/social-recovery-backend/cmd/flags"
	"github.com/ruteri/social-recovery-backend/recovery"
	"github.com/ruteri/social-recovery-backend/validation"
	"github.com/urfave/cli/v2"
)

// Client runs orchestrator flows against a relay on behalf of one user.
type Client struct {
	relay     *clients.RelayClient
	o         *recovery.Orchestrator
	passwords *passwordReader
	out       io.Writer
	log       *slog.Logger
}

func NewClient(cCtx *cli.Context) (*Client, error) {
	logger := flags.SetupLoggerTo(cCtx, os.Stderr)

	cfg, err := flags.RecoveryConfig(cCtx)
	if err != nil {
		return nil, err
	}

	relay := clients.NewRelayClient(cCtx.String(flagRelayURL.Name), cCtx.Duration(flagTimeout.Name), logger)

	var opts []recovery.Option
	if cCtx.Bool(flagCheckMX.Name) {
		checker := validation.NewMXChecker(cCtx.String(flagDNSResolver.Name), cCtx.Duration(flagTimeout.Name), logger)
		opts = append(opts, recovery.WithDomainChecker(checker))
	}

	o, err := recovery.NewOrchestrator(cfg, relay, relay, relay, relay, logger, opts...)
	if err != nil {
		return nil, err
	}

	return &Client{
		relay:     relay,
		o:         o,
		passwords: newPasswordReader(int(os.Stdin.Fd()), os.Stdin, os.Stderr),
		out:       os.Stdout,
		log:       logger,
	}, nil
}

// session logs in to the relay and unlocks the local vault of email.
func (c *Client) session(ctx context.Context, email string) (*recovery.SessionContext, error) {
	if email == "" {
		return nil, cli.Exit("--email is required", 1)
	}
	password, err := c.passwords.read("Password")
	if err != nil {
		return nil, err
	}

	if _, err := c.relay.Login(ctx, email, password); err != nil {
		c.log.Debug("Relay login failed", "err", err)
		return nil, cli.Exit("login failed", 1)
	}

	res := c.o.OpenSession(ctx, email, password)
	if !res.Success {
		return nil, printResult(c.out, res)
	}
	return res.Data, nil
}

// withSession runs fn inside an unlocked session and closes it afterwards.
func (c *Client) withSession(cCtx *cli.Context, fn func(ctx context.Context, sess *recovery.SessionContext) error) error {
	ctx := cCtx.Context
	sess, err := c.session(ctx, cCtx.String(flagEmail.Name))
	if err != nil {
		return err
	}
	defer sess.Close()
	defer c.relay.Logout()
	return fn(ctx, sess)
}

// printResult writes res as JSON and turns a failure into a non-zero exit.
func printResult[T any](w io.Writer, res recovery.Result[T]) error {
	encoded, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode result: %w", err)
	}
	fmt.Fprintln(w, string(encoded))

	if !res.Success {
		return cli.Exit("", 1)
	}
	return nil
}
