package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/example/pacts/internal/cache"
	"github.com/example/pacts/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "inspect or invalidate the selector cache",
}

var cacheInspectCmd = &cobra.Command{
	Use:   "inspect [origin]",
	Short: "list cached selector entries, optionally filtered by origin",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCacheInspect,
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <origin> <label>",
	Short: "remove one cached selector entry",
	Args:  cobra.ExactArgs(2),
	RunE:  runCacheInvalidate,
}

func runCacheInspect(cmd *cobra.Command, args []string) error {
	cch, err := openCache()
	if err != nil {
		return err
	}
	defer cch.Close()

	var originPrefix string
	if len(args) == 1 {
		originPrefix = args[0]
	}

	entries := cch.List(originPrefix)
	if len(entries) == 0 {
		fmt.Println("no cache entries")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%-10s selector=%-40s strategy=%-16s stable=%-5v hits=%d misses=%d last_used=%s\n",
			e.Key, e.Selector, e.Strategy, e.Stable, e.Hits, e.Misses, e.LastUsedAt.Format("2006-01-02T15:04:05"))
	}
	return nil
}

func runCacheInvalidate(cmd *cobra.Command, args []string) error {
	origin, label := args[0], args[1]
	cch, err := openCache()
	if err != nil {
		return err
	}
	defer cch.Close()

	key := cache.Key(origin, label, "")
	if err := cch.Invalidate(key); err != nil {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	fmt.Printf("invalidated %s\n", key)
	return nil
}

func openCache() (*cache.Cache, error) {
	ws := resolveWorkspace()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	dbPath := filepath.Join(ws, ".pacts", "cache.db")
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("no cache database at %s: %w", dbPath, err)
	}
	return cache.Open(cfg, dbPath)
}
