package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/matzehuels/lockstep/pkg/release"
)

// releaseFlags holds the flags shared by version and publish.
type releaseFlags struct {
	preid         string
	perPackage    map[string]string
	yes           bool
	yesUnsafe     bool
	dryRun        bool
	noGit         bool
	noPush        bool
	ignoreScripts bool

	// publish only
	canary      bool
	distTag     string
	otp         string
	gitHead     string
	concurrency int
}

func (f *releaseFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.preid, "preid", "", "prerelease identifier (default: release.preid)")
	cmd.Flags().StringToStringVar(&f.perPackage, "bump", nil, "per-package bump in independent mode, e.g. --bump core=major")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.Flags().BoolVar(&f.yesUnsafe, "yes-unsafe", false, "skip the working tree and upstream checks")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "show what would happen without writing anything")
	cmd.Flags().BoolVar(&f.noGit, "no-git-tag-version", false, "do not commit or tag")
	cmd.Flags().BoolVar(&f.noPush, "no-push", false, "commit and tag but do not push")
	cmd.Flags().BoolVar(&f.ignoreScripts, "ignore-scripts", false, "do not run lifecycle scripts")
}

func (f *releaseFlags) registerPublish(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.canary, "canary", false, "publish prerelease versions of the changed packages without committing")
	cmd.Flags().StringVar(&f.distTag, "dist-tag", "", "dist-tag to publish under (default: publish.dist_tag, or canary)")
	cmd.Flags().StringVar(&f.otp, "otp", "", "one-time password for the registry")
	cmd.Flags().StringVar(&f.gitHead, "git-head", "", "commit recorded as gitHead in published manifests")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "packages published at once (default: publish.concurrency)")
}

// versionCommand creates the version command.
func (c *CLI) versionCommand() *cobra.Command {
	var flags releaseFlags
	cmd := &cobra.Command{
		Use:   "version [bump]",
		Short: "Bump the versions of changed packages, commit and tag",
		Long: `Bump the versions of the packages changed since the last release and of
every package that depends on them. Sibling dependency ranges are rewritten,
lifecycle scripts run, and the result is committed, tagged and pushed.

bump is one of major, minor, patch, premajor, preminor, prepatch, prerelease,
or an explicit version. Without it, lockstep asks.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := flags.options(args)
			return c.runRelease(cmd, flags, opts)
		},
	}
	flags.register(cmd)
	return cmd
}

// publishCommand creates the publish command.
func (c *CLI) publishCommand() *cobra.Command {
	var flags releaseFlags
	cmd := &cobra.Command{
		Use:   "publish [bump | from-git | from-package]",
		Short: "Version the changed packages and publish them",
		Long: `Run version, then publish every public package of the release in dependency
order, so a package is only published after the packages it depends on.

from-git publishes the packages tagged at HEAD without versioning.
from-package publishes every package whose version is not in the registry yet.
--canary publishes prerelease versions derived from the last release tag and
leaves the repository untouched.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := flags.options(args)
			opts.Publish = true
			return c.runRelease(cmd, flags, opts)
		},
	}
	flags.register(cmd)
	flags.registerPublish(cmd)
	return cmd
}

// options translates flags and the positional argument.
func (f *releaseFlags) options(args []string) release.Options {
	opts := release.Options{
		PerPackage:  f.perPackage,
		Canary:      f.canary,
		PreID:       f.preid,
		DistTag:     f.distTag,
		DryRun:      f.dryRun,
		YesUnsafe:   f.yesUnsafe,
		NoGit:       f.noGit,
		NoPush:      f.noPush,
		GitHead:     f.gitHead,
		Concurrency: f.concurrency,
	}
	if len(args) == 1 {
		switch src := release.Source(args[0]); src {
		case release.SourceGit, release.SourcePackage:
			opts.Source = src
		default:
			opts.Bump = args[0]
		}
	}
	return opts
}

func (c *CLI) runRelease(cmd *cobra.Command, flags releaseFlags, opts release.Options) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)
	out := cmd.OutOrStdout()

	ws, err := c.openWorkspace()
	if err != nil {
		return err
	}
	runner, closeRunner, err := c.newRunner(ctx, ws, runnerOptions{
		registry:      opts.Publish || opts.Canary,
		ignoreScripts: flags.ignoreScripts,
		otp:           flags.otp,
	})
	if err != nil {
		return err
	}
	defer closeRunner()

	if c.interactive() {
		opts.Prompt = c.bumpPrompt()
		if !flags.yes && !opts.DryRun {
			question := "Create these versions?"
			if opts.Publish {
				question = "Publish these versions?"
			}
			opts.Confirm = c.confirmPlan(question)
		}
	}

	prog := newProgress(logger)
	res, err := runner.Run(ctx, opts)
	if err != nil {
		if res != nil && res.Published != nil && len(res.Published.Published) > 0 {
			printWarning(out, "%d packages were published before the failure", len(res.Published.Published))
			printPublished(out, res)
		}
		return err
	}
	if res.Aborted {
		printInfo(out, "Aborted")
		return nil
	}
	if res.Updates == nil || res.Updates.Len() == 0 {
		printInfo(out, "No changed packages to release")
		return nil
	}

	if res.Plan != nil && (opts.DryRun || opts.Confirm == nil) {
		printPlan(out, res.Plan, res.Updates)
	}
	if opts.DryRun {
		printInfo(out, "Dry run: nothing was written or published")
		return nil
	}
	for _, tag := range res.Tags {
		printSuccess(out, "Tagged %s", StyleHighlight.Render(tag))
	}
	if res.Pushed {
		printSuccess(out, "Pushed to %s", ws.cfg.Release.Remote)
	}
	printPublished(out, res)

	switch {
	case res.Published != nil:
		prog.done(fmt.Sprintf("Published %d packages", len(res.Published.Published)))
	case res.Plan != nil:
		prog.done(fmt.Sprintf("Versioned %d packages", res.Plan.Len()))
	}
	printKeyValue(out, "run", res.RunID)
	return nil
}

func printPublished(w io.Writer, res *release.Result) {
	if res.Published == nil {
		return
	}
	for _, p := range res.Published.Published {
		printSuccess(w, "%s@%s %s", p.Name, StyleHighlight.Render(p.Version), StyleDim.Render("("+p.DistTag+")"))
	}
}
