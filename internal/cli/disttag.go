package cli

import (
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/lockstep/pkg/errors"
	"github.com/matzehuels/lockstep/pkg/publish"
)

// distTagCommand creates the dist-tag command.
func (c *CLI) distTagCommand() *cobra.Command {
	var otp string
	cmd := &cobra.Command{
		Use:   "dist-tag",
		Short: "Manage registry dist-tags",
	}
	cmd.PersistentFlags().StringVar(&otp, "otp", "", "one-time password for the registry")

	cmd.AddCommand(c.distTagAddCommand(&otp))
	cmd.AddCommand(c.distTagRemoveCommand(&otp))
	cmd.AddCommand(c.distTagListCommand())

	return cmd
}

// distTagAddCommand creates the "dist-tag add" subcommand.
func (c *CLI) distTagAddCommand(otp *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add <package>@<version> [tag]",
		Short: "Point a dist-tag at a published version",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, version, err := splitSpec(args[0])
			if err != nil {
				return err
			}
			ws, err := c.openWorkspace()
			if err != nil {
				return err
			}
			tag := ws.cfg.Publish.DistTag
			if len(args) == 2 {
				tag = args[1]
			}
			if err := errors.ValidateDistTag(tag); err != nil {
				return err
			}
			p, done, err := c.distTagPublisher(cmd, ws, *otp)
			if err != nil {
				return err
			}
			defer done()
			if err := p.AddDistTag(cmd.Context(), name, version, tag); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "%s: %s@%s", tag, name, version)
			return nil
		},
	}
}

// distTagRemoveCommand creates the "dist-tag rm" subcommand.
func (c *CLI) distTagRemoveCommand(otp *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <package> <tag>",
		Short: "Remove a dist-tag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := c.openWorkspace()
			if err != nil {
				return err
			}
			p, done, err := c.distTagPublisher(cmd, ws, *otp)
			if err != nil {
				return err
			}
			defer done()
			if err := p.RemoveDistTag(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "-%s: %s", args[1], args[0])
			return nil
		},
	}
}

// distTagListCommand creates the "dist-tag ls" subcommand.
func (c *CLI) distTagListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <package>",
		Short: "List the dist-tags of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := c.openWorkspace()
			if err != nil {
				return err
			}
			client, done, err := c.newRegistry(ctx, ws)
			if err != nil {
				return err
			}
			defer done()

			spin := newSpinnerWithContext(ctx, "Fetching dist-tags of "+args[0])
			spin.out = cmd.ErrOrStderr()
			spin.Start()
			tags, err := client.DistTags(ctx, args[0])
			spin.Stop()
			if err != nil {
				return err
			}
			for _, tag := range slices.Sorted(maps.Keys(tags)) {
				printKeyValue(cmd.OutOrStdout(), tag, tags[tag])
			}
			return nil
		},
	}
}

// distTagPublisher wraps a registry client in the publisher's OTP flow.
func (c *CLI) distTagPublisher(cmd *cobra.Command, ws *workspace, otp string) (*publish.Publisher, func(), error) {
	client, done, err := c.newRegistry(cmd.Context(), ws)
	if err != nil {
		return nil, nil, err
	}
	var prompter publish.Prompter
	if c.interactive() {
		prompter = c.otpPrompter()
	}
	logger := loggerFromContext(cmd.Context())
	p := publish.New(client, nil, nil, nil, publish.NewOTPContext(prompter, otp, logger), publish.Options{Logger: logger})
	return p, done, nil
}

// splitSpec splits "name@version"; scoped names keep their leading "@".
func splitSpec(s string) (name, version string, err error) {
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return "", "", errors.New(errors.ErrCodeValidation, "expected <package>@<version>, got %q", s)
	}
	return s[:at], s[at+1:], nil
}
