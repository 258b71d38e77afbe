package main

import (
	"fmt"

	"rvcampaign/internal/campaign/coverage"
	"rvcampaign/internal/campaign/testlist"
	"rvcampaign/internal/generator/aapg"
	appErr "rvcampaign/pkg/errors"

	"github.com/spf13/cobra"
)

var genFlags struct {
	outDir  string
	isa     string
	regress string
	list    string
}

var genCmd = &cobra.Command{
	Use:   "gen [-- generator command...]",
	Short: "Turn AAPG output into a test list",
	Long: `Gen scans <out>/aapg/asm for generated programs, derives the march and
mabi of each from its instruction-distribution annotations and writes a test
list. When a generator command is given, the output directory is recreated
and the command is run in it first.`,
	Example: `  rvcampaign gen --out gen --isa RV64IMAC --list aapg.yaml -- aapg gen --config_file cfg.yaml`,
	RunE:    runGen,
}

func init() {
	f := genCmd.Flags()
	f.StringVarP(&genFlags.outDir, "out", "o", "", "Generator output directory")
	f.StringVar(&genFlags.isa, "isa", "", "ISA string recorded on every test")
	f.StringVar(&genFlags.regress, "regress", "", "Regression file whose aapg section is refreshed")
	f.StringVarP(&genFlags.list, "list", "l", "", "Test list to write")
}

func runGen(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := appCfg.Generator
	f := cmd.Flags()
	if f.Changed("out") {
		cfg.OutputDir = genFlags.outDir
	}
	if f.Changed("isa") {
		cfg.ISA = genFlags.isa
	}
	if cfg.ISA == "" {
		cfg.ISA = appCfg.Backend.ISA
	}
	if f.Changed("regress") {
		cfg.Regress = genFlags.regress
	}
	if len(args) > 0 {
		cfg.Command = args
	}
	if genFlags.list == "" {
		return appErr.ConfigError(appErr.ConfigInvalid, "--list is required")
	}

	gen, err := aapg.New(cfg, coverage.ExecRunner{})
	if err != nil {
		return err
	}
	if len(cfg.Command) > 0 {
		if err := gen.Prepare(ctx); err != nil {
			return err
		}
	}
	tests, err := gen.Generate(ctx)
	if err != nil {
		return err
	}
	if err := testlist.Save(genFlags.list, tests); err != nil {
		return err
	}
	if err := gen.UpdateRegress(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d tests written to %s\n", len(tests), genFlags.list)
	return nil
}
