package config

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aweris/gitbig/internal/git"
)

// Git holds the git-big.* keys of the repository configuration. Empty fields
// are unset.
type Git struct {
	UUID         string
	CacheDir     string
	DepotURL     string
	DepotKey     string
	DepotSecret  string
	DepotTimeout string
	DepotRetries string
}

// LoadGit reads every git-big key.
func LoadGit(ctx context.Context, g *git.Git) (*Git, error) {
	gc := &Git{}
	fields := []struct {
		key string
		dst *string
	}{
		{GitUUID, &gc.UUID},
		{GitCacheDir, &gc.CacheDir},
		{GitDepotURL, &gc.DepotURL},
		{GitDepotKey, &gc.DepotKey},
		{GitDepotSecret, &gc.DepotSecret},
		{GitDepotTimeout, &gc.DepotTimeout},
		{GitDepotRetries, &gc.DepotRetries},
	}
	for _, f := range fields {
		v, _, err := g.ConfigGet(ctx, f.key)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.key, err)
		}
		*f.dst = v
	}
	return gc, nil
}

// SaveRepo persists the repository uuid and registers the manifest merge
// driver.
func SaveRepo(ctx context.Context, g *git.Git, uuid string) error {
	if err := g.ConfigSet(ctx, GitUUID, uuid); err != nil {
		return fmt.Errorf("failed to save repository uuid: %w", err)
	}
	if err := g.ConfigSet(ctx, GitMergeDriver, MergeDriverCommand); err != nil {
		return fmt.Errorf("failed to register merge driver: %w", err)
	}
	return nil
}

// SaveDepot writes the depot settings of d that are set.
func SaveDepot(ctx context.Context, g *git.Git, d Depot) error {
	pairs := [][2]string{
		{GitDepotURL, d.URL},
		{GitDepotKey, d.Key},
		{GitDepotSecret, d.Secret},
	}
	if d.Timeout > 0 {
		pairs = append(pairs, [2]string{GitDepotTimeout, d.Timeout.String()})
	}
	if d.Retries > 0 {
		pairs = append(pairs, [2]string{GitDepotRetries, strconv.Itoa(d.Retries)})
	}
	for _, p := range pairs {
		if p[1] == "" {
			continue
		}
		if err := g.ConfigSet(ctx, p[0], p[1]); err != nil {
			return fmt.Errorf("failed to save %s: %w", p[0], err)
		}
	}
	return nil
}
