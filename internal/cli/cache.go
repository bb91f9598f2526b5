package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/lockstep/pkg/cache"
	"github.com/matzehuels/lockstep/pkg/config"
	"github.com/matzehuels/lockstep/pkg/errors"
)

// cacheCommand creates the cache management command.
func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the registry metadata cache",
	}

	cmd.AddCommand(c.cacheClearCommand())
	cmd.AddCommand(c.cachePathCommand())

	return cmd
}

// cacheClearCommand creates the "cache clear" subcommand.
func (c *CLI) cacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear all cached registry metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := c.openWorkspace()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			switch ws.cfg.Cache.Backend {
			case config.CacheNone:
				printInfo(out, "Caching is disabled")
				return nil
			case config.CacheRedis:
				count, err := clearRedis(cmd.Context(), ws.cfg)
				if err != nil {
					return err
				}
				printSuccess(out, "Cleared %d cached entries", count)
				printDetail(out, "Redis: %s", ws.cfg.Cache.RedisURL)
				return nil
			}

			dir, err := fileCacheDir(ws.cfg)
			if err != nil {
				return errors.Wrap(errors.ErrCodeInvalidPath, err, "get cache dir")
			}
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				printInfo(out, "Cache is empty")
				return nil
			}
			fc, err := cache.NewFileCache(dir)
			if err != nil {
				return err
			}
			count, err := fc.Clear()
			if err != nil {
				return err
			}
			printSuccess(out, "Cleared %d cached entries", count)
			printDetail(out, "Directory: %s", dir)
			return nil
		},
	}
}

func clearRedis(ctx context.Context, cfg *config.Config) (int, error) {
	rc, err := cache.NewRedisCache(ctx, cfg.Cache.RedisURL, redisPrefix)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeNetwork, err, "connect to redis cache")
	}
	defer rc.Close()
	return rc.Clear(ctx)
}

// cachePathCommand creates the "cache path" subcommand.
func (c *CLI) cachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache location",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := c.openWorkspace()
			if err != nil {
				return err
			}
			switch ws.cfg.Cache.Backend {
			case config.CacheRedis:
				fmt.Fprintln(cmd.OutOrStdout(), ws.cfg.Cache.RedisURL)
				return nil
			case config.CacheNone:
				return errors.New(errors.ErrCodeValidation, "caching is disabled")
			}
			dir, err := fileCacheDir(ws.cfg)
			if err != nil {
				return errors.Wrap(errors.ErrCodeInvalidPath, err, "get cache dir")
			}
			fmt.Fprintln(cmd.OutOrStdout(), dir)
			return nil
		},
	}
}
