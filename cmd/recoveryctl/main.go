package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/ruteri/social-recovery-backend/cmd/flags"
	"github.com/ruteri/social-recovery-backend/interfaces"
	"github.com/ruteri/social-recovery-backend/recovery"
	"github.com/urfave/cli/v2"
)

var flagRelayURL = &cli.StringFlag{
	Name:    "relay-url",
	Value:   "http://127.0.0.1:8080",
	Usage:   "relay server address",
	EnvVars: []string{"RELAY_URL"},
}
var flagTimeout = &cli.DurationFlag{
	Name:  "timeout",
	Value: 15 * time.Second,
	Usage: "timeout for relay requests and DNS lookups",
}
var flagEmail = &cli.StringFlag{
	Name:    "email",
	Usage:   "email of the account to act as, or to recover",
	EnvVars: []string{"RECOVERY_EMAIL"},
}
var flagCheckMX = &cli.BoolFlag{
	Name:  "check-mx",
	Usage: "require trustee email domains to accept mail",
}
var flagDNSResolver = &cli.StringFlag{
	Name:  "dns-resolver",
	Value: "1.1.1.1:53",
	Usage: "resolver used by --check-mx",
}

var flagUsername = &cli.StringFlag{Name: "username", Required: true, Usage: "display name for the new account"}
var flagTrustee = &cli.StringFlag{Name: "trustee", Required: true, Usage: "email of the person to trust"}
var flagRelationship = &cli.StringFlag{Name: "relationship", Required: true, Usage: "trust relationship ID"}
var flagRequest = &cli.StringFlag{Name: "request", Required: true, Usage: "recovery request ID"}
var flagDecision = &cli.StringFlag{Name: "decision", Required: true, Usage: "'approve' or 'reject'"}
var flagSupersede = &cli.BoolFlag{Name: "supersede", Usage: "replace an active recovery that has been idle past the supersede delay"}
var flagDevice = &cli.StringFlag{Name: "device", Usage: "name of this device, recorded on the request"}

func main() {
	app := &cli.App{
		Name:  "recoveryctl",
		Usage: "Enroll, manage trustees and recover accounts through a social recovery relay",
		Flags: append(append([]cli.Flag{
			flagRelayURL,
			flagTimeout,
			flagEmail,
			flagCheckMX,
			flagDNSResolver,
			flags.LogServiceFlagFn("recoveryctl"),
		}, flags.RecoveryFlags...), flags.LogFlags...),
		Commands: []*cli.Command{
			{
				Name:   "enroll",
				Usage:  "create an account and its local vault",
				Flags:  []cli.Flag{flagUsername},
				Action: withClient((*Client).Enroll),
			},
			{
				Name:  "trust",
				Usage: "manage trusted parties",
				Subcommands: []*cli.Command{
					{Name: "add", Usage: "ask someone to hold a share", Flags: []cli.Flag{flagTrustee}, Action: withClient((*Client).AddTrustee)},
					{Name: "respond", Usage: "approve or reject a trust request", Flags: []cli.Flag{flagRelationship, flagDecision}, Action: withClient((*Client).Respond)},
					{Name: "revoke", Usage: "revoke a trust relationship", Flags: []cli.Flag{flagRelationship}, Action: withClient((*Client).Revoke)},
					{Name: "list", Usage: "list the people you trust", Action: withClient((*Client).ListTrusted)},
					{Name: "incoming", Usage: "list the people who trust you", Action: withClient((*Client).ListTrusting)},
				},
			},
			{
				Name:  "recovery",
				Usage: "recover an account or help someone recover theirs",
				Subcommands: []*cli.Command{
					{Name: "start", Usage: "start recovering the account of --email", Flags: []cli.Flag{flagSupersede, flagDevice}, Action: withClient((*Client).StartRecovery)},
					{Name: "status", Usage: "show the progress of a recovery", Flags: []cli.Flag{flagRequest}, Action: withClient((*Client).Status)},
					{Name: "finalize", Usage: "rebuild the account once enough shares arrived", Flags: []cli.Flag{flagRequest}, Action: withClient((*Client).Finalize)},
					{Name: "abandon", Usage: "give up a recovery you started", Flags: []cli.Flag{flagRequest}, Action: withClient((*Client).Abandon)},
					{Name: "pending", Usage: "list recoveries waiting for your share", Action: withClient((*Client).Pending)},
					{Name: "submit", Usage: "send your share to a recovery", Flags: []cli.Flag{flagRequest, flagRelationship}, Action: withClient((*Client).Submit)},
					{Name: "cancel", Usage: "cancel a recovery of your own account", Flags: []cli.Flag{flagRequest}, Action: withClient((*Client).Cancel)},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func withClient(action func(*Client, *cli.Context) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		c, err := NewClient(cCtx)
		if err != nil {
			return err
		}
		return action(c, cCtx)
	}
}

func (c *Client) Enroll(cCtx *cli.Context) error {
	email := cCtx.String(flagEmail.Name)
	if email == "" {
		return cli.Exit("--email is required", 1)
	}
	password, confirm, err := c.passwords.readConfirmed("Password")
	if err != nil {
		return err
	}
	return printResult(c.out, c.o.Enroll(cCtx.Context, cCtx.String(flagUsername.Name), email, password, confirm))
}

func (c *Client) AddTrustee(cCtx *cli.Context) error {
	return c.withSession(cCtx, func(ctx context.Context, sess *recovery.SessionContext) error {
		return printResult(c.out, c.o.AddTrustedParty(ctx, sess, cCtx.String(flagTrustee.Name)))
	})
}

func (c *Client) Respond(cCtx *cli.Context) error {
	return c.withSession(cCtx, func(ctx context.Context, sess *recovery.SessionContext) error {
		id := interfaces.RelationshipID(cCtx.String(flagRelationship.Name))
		decision := recovery.Decision(cCtx.String(flagDecision.Name))
		return printResult(c.out, c.o.RespondToTrustRequest(ctx, sess, id, decision))
	})
}

func (c *Client) Revoke(cCtx *cli.Context) error {
	return c.withSession(cCtx, func(ctx context.Context, sess *recovery.SessionContext) error {
		id := interfaces.RelationshipID(cCtx.String(flagRelationship.Name))
		return printResult(c.out, c.o.RevokeTrustedParty(ctx, sess, id))
	})
}

func (c *Client) ListTrusted(cCtx *cli.Context) error {
	return c.withSession(cCtx, func(ctx context.Context, sess *recovery.SessionContext) error {
		return printResult(c.out, c.o.ListTrustedByMe(ctx, sess))
	})
}

func (c *Client) ListTrusting(cCtx *cli.Context) error {
	return c.withSession(cCtx, func(ctx context.Context, sess *recovery.SessionContext) error {
		return printResult(c.out, c.o.ListTrustingMe(ctx, sess))
	})
}

func (c *Client) StartRecovery(cCtx *cli.Context) error {
	email := cCtx.String(flagEmail.Name)
	if email == "" {
		return cli.Exit("--email is required", 1)
	}
	password, confirm, err := c.passwords.readConfirmed("New password")
	if err != nil {
		return err
	}
	opts := recovery.InitiateOptions{
		Supersede:   cCtx.Bool(flagSupersede.Name),
		RecovererID: cCtx.String(flagDevice.Name),
	}
	return printResult(c.out, c.o.InitiateRecovery(cCtx.Context, email, password, confirm, opts))
}

func (c *Client) Status(cCtx *cli.Context) error {
	id := interfaces.RecoveryRequestID(cCtx.String(flagRequest.Name))
	return printResult(c.out, c.o.RecoveryStatus(cCtx.Context, id))
}

func (c *Client) Finalize(cCtx *cli.Context) error {
	password, err := c.passwords.read("New password")
	if err != nil {
		return err
	}
	id := interfaces.RecoveryRequestID(cCtx.String(flagRequest.Name))
	return printResult(c.out, c.o.FinalizeRecovery(cCtx.Context, id, password))
}

func (c *Client) Abandon(cCtx *cli.Context) error {
	password, err := c.passwords.read("New password")
	if err != nil {
		return err
	}
	id := interfaces.RecoveryRequestID(cCtx.String(flagRequest.Name))
	return printResult(c.out, c.o.AbandonRecovery(cCtx.Context, id, password))
}

func (c *Client) Pending(cCtx *cli.Context) error {
	return c.withSession(cCtx, func(ctx context.Context, sess *recovery.SessionContext) error {
		return printResult(c.out, c.o.ListRecoveryRequests(ctx, sess))
	})
}

func (c *Client) Submit(cCtx *cli.Context) error {
	return c.withSession(cCtx, func(ctx context.Context, sess *recovery.SessionContext) error {
		req := interfaces.RecoveryRequestID(cCtx.String(flagRequest.Name))
		rel := interfaces.RelationshipID(cCtx.String(flagRelationship.Name))
		return printResult(c.out, c.o.SubmitShareForRecovery(ctx, sess, req, rel))
	})
}

func (c *Client) Cancel(cCtx *cli.Context) error {
	return c.withSession(cCtx, func(ctx context.Context, sess *recovery.SessionContext) error {
		id := interfaces.RecoveryRequestID(cCtx.String(flagRequest.Name))
		return printResult(c.out, c.o.CancelRecovery(ctx, sess, id))
	})
}
