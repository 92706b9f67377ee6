package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/metraton/warden/internal/classify"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Validate and inspect the rule table",
}

var rulesFile string

var rulesValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compile the rule table and report errors",
	Long: `Strict-decodes and compiles the rule table the same way the daemon
does at startup, so a table that validates here will load there. Exits
non-zero on any schema or compilation error.`,
	RunE: runRulesValidate,
}

var rulesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the compiled rule table",
	RunE:  runRulesShow,
}

var rulesReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Tell the running daemon to reload its rule table now",
	Long: `Forces an immediate reload, bypassing the file watcher. A table
that fails to compile is rejected and the daemon keeps serving the
current one.`,
	RunE: runRulesReload,
}

func init() {
	rulesCmd.AddCommand(rulesValidateCmd, rulesShowCmd, rulesReloadCmd)
	rulesCmd.PersistentFlags().StringVar(&rulesFile, "file", "", "Rule table path (default: the workspace rules file)")
}

// resolveRulesPath honors --file, otherwise finds the workspace table.
func resolveRulesPath() (string, error) {
	if rulesFile != "" {
		return rulesFile, nil
	}
	wardenDir, cfg, err := openWorkspace()
	if err != nil {
		return "", err
	}
	p := cfg.Classifier.RulesFile
	if !filepath.IsAbs(p) {
		p = filepath.Join(wardenDir, p)
	}
	return p, nil
}

func runRulesValidate(cmd *cobra.Command, args []string) error {
	path, err := resolveRulesPath()
	if err != nil {
		return err
	}

	table, err := classify.NewLoader(path).Load()
	if err != nil {
		return err
	}

	fmt.Printf("ok: %d rule(s), %d delegation rule(s), checksum %s\n",
		table.RuleCount(), table.DelegationRuleCount(), table.Checksum())
	return nil
}

func runRulesShow(cmd *cobra.Command, args []string) error {
	path, err := resolveRulesPath()
	if err != nil {
		return err
	}

	table, err := classify.NewLoader(path).Load()
	if err != nil {
		return err
	}

	fmt.Printf("table: %s\nchecksum: %s\n\n", path, table.Checksum())

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROGRAMS\tSUBCOMMANDS\tFLAGS\tTIER\tASK\tDESTRUCTIVE")
	for _, r := range table.Summaries() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\t%v\n",
			r.ID, joinOrDash(r.Programs), joinOrDash(r.Subcommands), joinOrDash(r.Flags),
			r.Tier, r.Ask, r.Destructive)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if dels := table.DelegationSummaries(); len(dels) > 0 {
		fmt.Println()
		dw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(dw, "DELEGATION\tKEYWORDS\tTIER")
		for _, d := range dels {
			fmt.Fprintf(dw, "%s\t%s\t%s\n", d.ID, joinOrDash(d.Keywords), d.Tier)
		}
		if err := dw.Flush(); err != nil {
			return err
		}
	}

	tier, ask := table.Defaults()
	fmt.Printf("\ndefaults: tier=%s ask=%v\n", tier, ask)
	return nil
}

func runRulesReload(cmd *cobra.Command, args []string) error {
	wardenDir, cfg, err := openWorkspace()
	if err != nil {
		return err
	}

	resp, err := daemonClient(wardenDir, cfg).SendCommand("rules.reload", nil)
	if err != nil {
		return fmt.Errorf("rules reload: %w", err)
	}
	if !resp.Success {
		return respFailure("rules reload", resp)
	}

	var data struct {
		Rules           int    `json:"rules"`
		DelegationRules int    `json:"delegation_rules"`
		Checksum        string `json:"checksum"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return fmt.Errorf("decode reload result: %w", err)
	}
	fmt.Printf("reloaded: %d rule(s), %d delegation rule(s), checksum %s\n",
		data.Rules, data.DelegationRules, data.Checksum)
	return nil
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}
