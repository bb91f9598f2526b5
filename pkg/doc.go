// Package pkg provides the libraries behind lockstep, a release tool for
// JavaScript monorepos.
//
// # Overview
//
// Lockstep versions and publishes the packages of a repository together.
// The pkg directory is organized into four areas:
//
//  1. Model: [manifest], [specifier], [graph], [batch]
//  2. Planning: [changes], [version], [rewrite]
//  3. Side effects: [vcs], [lifecycle], [pack], [registry], [publish], [history]
//  4. Orchestration and support: [release], [config], [cache], [errors],
//     [observability], [httputil], [buildinfo], [render/nodelink]
//
// # Architecture
//
// The data flow of a publish run:
//
//	lockstep.toml + package.json files
//	         ↓
//	    [manifest] discovery, [graph] construction
//	         ↓
//	    [changes] selection since the last release tag
//	         ↓
//	    [version] plan, [rewrite] of sibling ranges
//	         ↓
//	    [lifecycle] scripts, [vcs] commit, tag and push
//	         ↓
//	    [batch] topological order, [pack] tarballs, [publish] to [registry]
//
// # Quick Start
//
//	cfg, _ := config.Load(root)
//	git, _ := vcs.New(root, logger)
//	runner := release.NewRunner(root, cfg, git, logger)
//	runner.Registry = registry.New(registry.Options{URL: cfg.Publish.Registry, Token: config.Token()})
//	runner.Packer = pack.New(tmpDir, logger)
//	res, err := runner.Run(ctx, release.Options{Bump: "minor", Publish: true})
//
// # Main Packages
//
// [graph] - The package graph. Dependencies are classified as local or
// external at construction; cycles are reported without mutating the graph.
//
// [batch] - Topological batches for concurrent work, with deterministic
// tie-breaking inside cycles.
//
// [changes] - Packages changed since the last release, plus their dependents.
//
// [version] - Bump keywords, the fixed or independent version plan, and
// canary version assembly.
//
// [publish] - Registry publishing in dependency order with OTP retries,
// throttling and dist-tag handling.
//
// [release] - The version and publish commands end to end: checks, plan,
// write, commit, tag, push, publish, and restore on failure.
package pkg
