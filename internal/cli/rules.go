package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arif/kestrel/pkg/permission"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage permission rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List permission rules in evaluation order",
	Args:  cobra.NoArgs,
	RunE:  runRulesList,
}

var rulesAddCmd = &cobra.Command{
	Use:   "add <pattern> <allow|deny>",
	Short: "Add a permission rule",
	Long: `Add appends a rule matching a tool name. A pattern ending in * matches
any tool with that prefix; exact matches always win over wildcards.`,
	Args: cobra.ExactArgs(2),
	RunE: runRulesAdd,
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "remove <pattern>",
	Short: "Remove every rule with the given pattern",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesRemove,
}

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesAddCmd)
	rulesCmd.AddCommand(rulesRemoveCmd)
	rootCmd.AddCommand(rulesCmd)
}

func runRulesList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	rules := store.Rules().List()
	if len(rules) == 0 {
		fmt.Println("no rules")
		return nil
	}

	for _, rule := range rules {
		fmt.Printf("%-6s %s\n", rule.Decision, rule.Pattern)
	}
	return nil
}

func runRulesAdd(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	rule := permission.Rule{
		Pattern:  args[0],
		Decision: permission.Decision(args[1]),
	}
	if err := store.AddRule(rule); err != nil {
		return err
	}

	fmt.Printf("added %s rule for %s\n", rule.Decision, rule.Pattern)
	return nil
}

func runRulesRemove(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	if err := store.RemoveRule(args[0]); err != nil {
		return err
	}

	fmt.Printf("removed rules for %s\n", args[0])
	return nil
}
