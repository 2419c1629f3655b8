package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/dsl"
	"github.com/opensource-finance/fraudguard/internal/rules"
)

var evalFlags struct {
	facts   []string
	backend string
}

var evalCmd = &cobra.Command{
	Use:   "eval <expression>",
	Short: "Evaluate a rule against facts",
	Long: `Evaluate one rule against facts given as field=value pairs.

Facts that are not given are absent, and any comparison on an absent fact
is false.

Examples:
  fraudguard eval "amount > 1000" --fact amount=2500
  fraudguard eval "NOT currency = 'USD'" --fact currency=EUR --backend cel`,
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)

	evalCmd.Flags().StringArrayVarP(&evalFlags.facts, "fact", "F", nil, "fact as field=value (repeatable)")
	evalCmd.Flags().StringVar(&evalFlags.backend, "backend", domain.BackendNative, "evaluation backend: native, cel")
}

func runEval(cmd *cobra.Command, args []string) error {
	facts, err := parseFacts(evalFlags.facts)
	if err != nil {
		return err
	}

	engine, err := rules.NewEngine(evalFlags.backend, 1)
	if err != nil {
		return err
	}
	defer engine.Close()

	out := cmd.OutOrStdout()
	rule := &domain.FraudRule{
		ID:            "cli",
		Name:          "cli",
		DSLExpression: args[0],
		Priority:      domain.DefaultRulePriority,
		Enabled:       true,
	}
	if err := engine.LoadRule(rule); err != nil {
		fmt.Fprintf(out, "✗ %s\n", args[0])
		printParseErrors(out, args[0], err)
		return fmt.Errorf("rule is invalid")
	}

	results := engine.EvaluateAll(cmd.Context(), facts)
	matched := len(results) == 1 && results[0].Matched

	verdict := domain.StatusApproved
	if matched {
		verdict = domain.StatusDeclined
	}
	fmt.Fprintf(out, "matched: %t\n", matched)
	fmt.Fprintf(out, "status:  %s\n", verdict)
	return nil
}

// parseFacts turns field=value pairs into a fact record.
func parseFacts(pairs []string) (*dsl.Facts, error) {
	facts := &dsl.Facts{}
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("fact %q must be field=value", pair)
		}
		field, value, err := dsl.ParseFact(strings.TrimSpace(name), raw)
		if err != nil {
			return nil, fmt.Errorf("fact %q: %w", pair, err)
		}
		facts.Set(field, value)
	}
	return facts, nil
}
