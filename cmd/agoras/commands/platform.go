package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/agoras-social/agoras/internal/credential"
	"github.com/agoras-social/agoras/internal/platforms"
	"github.com/agoras-social/agoras/internal/resolver"
)

// platformCommand builds the command tree for one platform from its
// declarative spec: authorize, post, accounts, forget.
func platformCommand(platform credential.Platform) *cli.Command {
	spec := platforms.Registry[platform]

	return &cli.Command{
		Name:  string(platform),
		Usage: fmt.Sprintf("Manage and post to %s", platform),
		Commands: []*cli.Command{
			authorizeCommand(spec),
			postCommand(spec),
			accountsCommand(spec),
			forgetCommand(spec),
		},
	}
}

// fieldFlags turns the platform's field table into CLI flags. Environment
// fallbacks are handled by the resolver, not the flag layer, so precedence
// stays observable.
func fieldFlags(spec *platforms.Spec) []cli.Flag {
	flags := make([]cli.Flag, 0, len(spec.Fields))
	for _, f := range spec.Fields {
		flags = append(flags, &cli.StringFlag{
			Name:  f.Flag,
			Usage: fmt.Sprintf("%s credential field %q", spec.Platform, f.Name),
		})
	}
	return flags
}

// flagLookup adapts urfave flag state to the resolver's contract: only
// explicitly set flags participate in precedence.
func flagLookup(cmd *cli.Command) resolver.FlagLookup {
	return func(flag string) (string, bool) {
		if !cmd.IsSet(flag) {
			return "", false
		}
		return cmd.String(flag), true
	}
}

func authorizeCommand(spec *platforms.Spec) *cli.Command {
	return &cli.Command{
		Name:  "authorize",
		Usage: fmt.Sprintf("Run the %s login flow and store the credential", spec.Protocol),
		Flags: fieldFlags(spec),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			application, err := setup(cmd)
			if err != nil {
				return err
			}

			inputs, err := gatherAuthorizeInputs(ctx, spec, cmd)
			if err != nil {
				return err
			}

			rec, err := application.Orchestrator.Authorize(ctx, spec, inputs)
			if err != nil {
				return err
			}

			fmt.Printf("Authorized %s. Credential stored encrypted.\n", rec.Redacted())
			return nil
		},
	}
}

// gatherAuthorizeInputs collects the fields an authorize run needs from
// flags and environment, prompting with hidden input for missing secrets.
func gatherAuthorizeInputs(ctx context.Context, spec *platforms.Spec, cmd *cli.Command) (platforms.Fields, error) {
	inputs := make(platforms.Fields)

	for _, f := range spec.Fields {
		if cmd.IsSet(f.Flag) {
			inputs[f.Name] = cmd.String(f.Flag)
			continue
		}
		if v := os.Getenv(f.EnvVar); v != "" {
			inputs[f.Name] = v
		}
	}

	for _, name := range spec.AuthorizeFields {
		if inputs[name] != "" {
			continue
		}
		f, _ := spec.Field(name)
		if f.Secret && term.IsTerminal(int(os.Stdin.Fd())) {
			value, err := readSecureInput(ctx, fmt.Sprintf("Enter %s %s: ", spec.Platform, name))
			if err != nil {
				return nil, err
			}
			inputs[name] = value
		}
		if inputs[name] == "" {
			return nil, &credential.ValidationError{
				Platform: spec.Platform,
				Field:    name,
				Flag:     f.Flag,
				EnvVar:   f.EnvVar,
			}
		}
	}

	return inputs, nil
}

// readSecureInput reads user input with hidden display and context cancellation support.
// Goroutine+select pattern required because term.ReadPassword has no native context support.
func readSecureInput(ctx context.Context, prompt string) (string, error) {
	fmt.Print(prompt)
	defer fmt.Println()

	type result struct {
		value string
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		inputBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		resultCh <- result{value: string(inputBytes), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return "", fmt.Errorf("failed to read input: %w", res.err)
		}
		return res.value, nil
	}
}

func postCommand(spec *platforms.Spec) *cli.Command {
	flags := append(fieldFlags(spec),
		&cli.StringFlag{
			Name:     "message",
			Aliases:  []string{"m"},
			Usage:    "text to post",
			Required: true,
		},
	)

	return &cli.Command{
		Name:  "post",
		Usage: fmt.Sprintf("Post a message to %s using stored credentials", spec.Platform),
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			application, err := setup(cmd)
			if err != nil {
				return err
			}

			fields, err := application.Resolver.Resolve(ctx, spec.Platform, "", spec.PostFields, flagLookup(cmd))
			if err != nil {
				return err
			}

			if err := platforms.Post(ctx, nil, spec.Platform, fields, cmd.String("message")); err != nil {
				return err
			}

			fmt.Printf("Posted to %s.\n", spec.Platform)
			return nil
		},
	}
}

func accountsCommand(spec *platforms.Spec) *cli.Command {
	return &cli.Command{
		Name:  "accounts",
		Usage: fmt.Sprintf("List stored %s credentials", spec.Platform),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			application, err := setup(cmd)
			if err != nil {
				return err
			}

			identifiers, err := application.Store.List(ctx, spec.Platform)
			if err != nil {
				return err
			}
			if len(identifiers) == 0 {
				fmt.Printf("No stored credentials for %s. Run `agoras %s authorize`.\n", spec.Platform, spec.Platform)
				return nil
			}
			for _, id := range identifiers {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func forgetCommand(spec *platforms.Spec) *cli.Command {
	identifierFlag, _ := spec.Field(spec.IdentifierField)

	return &cli.Command{
		Name:  "forget",
		Usage: fmt.Sprintf("Delete a stored %s credential", spec.Platform),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     identifierFlag.Flag,
				Usage:    "identifier of the credential to delete",
				Required: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			application, err := setup(cmd)
			if err != nil {
				return err
			}

			identifier := cmd.String(identifierFlag.Flag)
			if err := application.Store.Delete(ctx, spec.Platform, identifier); err != nil {
				return err
			}

			fmt.Printf("Deleted credential %s/%s.\n", spec.Platform, identifier)
			return nil
		},
	}
}
