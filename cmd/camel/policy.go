package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jllopis/camel/pkg/capability"
	"github.com/jllopis/camel/pkg/policy"
)

var (
	checkTool      string
	checkArgs      []string
	checkUntrusted []string
	checkSource    string
	checkControl   bool
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and test the policy table",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective policy table as YAML",
	Args:  cobra.NoArgs,
	RunE:  runPolicyShow,
}

var policyCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Decide a single tool call",
	Long:  "Evaluates one tool call against the policy. Arguments listed in --untrusted are treated as output of the --source tool.",
	Args:  cobra.NoArgs,
	RunE:  runPolicyCheck,
}

func init() {
	f := policyCheckCmd.Flags()
	f.StringVar(&checkTool, "tool", "", "tool name")
	f.StringArrayVar(&checkArgs, "arg", nil, "argument (name=value, repeatable)")
	f.StringSliceVar(&checkUntrusted, "untrusted", nil, "names of untrusted arguments")
	f.StringVar(&checkSource, "source", "read", "tool the untrusted arguments came from")
	f.BoolVar(&checkControl, "control-untrusted", false, "the call is reached through untrusted control flow")
	_ = policyCheckCmd.MarkFlagRequired("tool")

	policyCmd.AddCommand(policyShowCmd, policyCheckCmd)
	rootCmd.AddCommand(policyCmd)
}

func runPolicyShow(cmd *cobra.Command, _ []string) error {
	pc := policy.DefaultConfig()
	if cfg.Policy.File != "" {
		var err error
		if pc, err = policy.LoadConfig(cfg.Policy.File); err != nil {
			return NewConfigError(err, cfg.Policy.File)
		}
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), pc.Rules)
	}
	data, err := pc.Marshal()
	if err != nil {
		return err
	}
	if pc.Hash != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# sha256: %s\n", pc.Hash)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

type checkOutput struct {
	Tool       string            `json:"tool"`
	Allowed    bool              `json:"allowed"`
	Reason     string            `json:"reason"`
	RuleID     string            `json:"ruleId"`
	Mutability policy.Mutability `json:"mutability"`
}

func runPolicyCheck(cmd *cobra.Command, _ []string) error {
	req, err := checkRequest()
	if err != nil {
		return err
	}
	engine, err := loadPolicy(cmd.Context())
	if err != nil {
		return err
	}
	d := engine.Decide(cmd.Context(), req)
	out := checkOutput{Tool: req.Tool, Allowed: d.Allowed, Reason: d.Reason, RuleID: d.RuleID, Mutability: d.Mutability}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), out)
	}
	verdict := "allowed"
	if !d.Allowed {
		verdict = "denied"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s): %s [rule %s]\n", req.Tool, verdict, d.Mutability, d.Reason, d.RuleID)
	return nil
}

// checkRequest builds a policy request from the check flags.
func checkRequest() (policy.Request, error) {
	untrusted := make(map[string]bool, len(checkUntrusted))
	for _, name := range checkUntrusted {
		untrusted[strings.TrimSpace(name)] = true
	}
	tainted := capability.ToolOutput(checkSource)
	req := policy.Request{
		Tool:      checkTool,
		Args:      make(map[string]capability.Value, len(checkArgs)),
		Control:   capability.Literal(),
		Principal: cfg.Runtime.Principal,
	}
	for _, kv := range checkArgs {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return req, NewInvalidArgumentError("--arg", fmt.Sprintf("%q is not name=value", kv))
		}
		c := capability.User()
		if untrusted[name] {
			c = tainted
			delete(untrusted, name)
		}
		req.Args[name] = capability.NewValue(value, c)
	}
	for name := range untrusted {
		return req, NewInvalidArgumentError("--untrusted", fmt.Sprintf("no --arg named %q", name))
	}
	if checkControl {
		req.Control = tainted
	}
	return req, nil
}
