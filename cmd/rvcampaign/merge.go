package main

import (
	"fmt"

	"rvcampaign/internal/campaign/coverage"
	"rvcampaign/internal/campaign/service"
	appErr "rvcampaign/pkg/errors"

	"github.com/spf13/cobra"
)

var mergeFlags struct {
	outDir   string
	tool     string
	archives []string
}

var mergeCmd = &cobra.Command{
	Use:   "merge [database...]",
	Short: "Merge and rank coverage databases from any number of campaigns",
	Long: `Merge validates every database, skips the ones that are missing or
corrupt, writes the cumulative database, its HTML report and the ranking of
every input by the coverage it adds. Archived campaign bundles can be pulled
from object storage with --archive.`,
	Example: `  rvcampaign merge --out nightly run1/coverage/a.dat run2/coverage/b.dat
  rvcampaign merge --tool vcover --archive campaigns/3f2a.tar.zst --out weekly`,
	RunE: runMerge,
}

func init() {
	f := mergeCmd.Flags()
	f.StringVarP(&mergeFlags.outDir, "out", "o", "", "Output directory (defaults to the campaign work dir)")
	f.StringVar(&mergeFlags.tool, "tool", "", "Coverage tool (native, vcover)")
	f.StringArrayVar(&mergeFlags.archives, "archive", nil, "Object key of an archived campaign bundle (repeatable)")
}

func runMerge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := appCfg

	name := mergeFlags.tool
	if name == "" {
		name = cfg.Backend.Coverage.Tool
	}
	if name == "" {
		name = string(cfg.Backend.Kind)
	}
	tool, ok := coverage.ToolByName(name)
	if !ok {
		return appErr.ConfigError(appErr.ConfigInvalid, "unknown coverage tool %q", name)
	}
	outDir := mergeFlags.outDir
	if outDir == "" {
		outDir = cfg.Campaign.WorkDir
	}

	in, err := openInfra(ctx, cfg)
	if err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "connect infrastructure")
	}
	defer in.close()

	engine, err := coverage.NewEngine(coverage.Config{
		Tool:     tool,
		Locker:   in.locker(),
		LockTTL:  cfg.Merge.LockTTL,
		LockWait: cfg.Merge.LockWait,
	})
	if err != nil {
		return err
	}
	merger, err := service.NewMerger(engine, in.archive)
	if err != nil {
		return err
	}
	html, rank, err := merger.Merge(ctx, service.MergeRequest{
		Databases: args,
		Archives:  mergeFlags.archives,
		OutDir:    outDir,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "coverage report: %s\nrank report:     %s\n", html, rank)
	return nil
}
