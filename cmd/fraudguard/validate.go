package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/fraudguard/internal/dsl"
)

var validateFlags struct {
	file     string
	showJSON bool
}

var validateCmd = &cobra.Command{
	Use:   "validate [expression]",
	Short: "Check rule expressions",
	Long: `Parse rule expressions and report every error with its position.

Valid rules are printed in canonical form. With --file, each non-empty line
that does not start with '#' is checked as a separate rule.

Examples:
  fraudguard validate "amount > 1000 AND currency != 'USD'"
  fraudguard validate --json "NOT (user.age >= 18)"
  fraudguard validate --file rules.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateFlags.file, "file", "f", "", "file with one rule per line")
	validateCmd.Flags().BoolVar(&validateFlags.showJSON, "json", false, "print the compiled tree as JSON")
}

func runValidate(cmd *cobra.Command, args []string) error {
	var sources []string
	switch {
	case validateFlags.file != "":
		lines, err := readRuleFile(validateFlags.file)
		if err != nil {
			return err
		}
		sources = lines
	case len(args) == 1:
		sources = []string{args[0]}
	default:
		return fmt.Errorf("an expression or --file is required")
	}

	out := cmd.OutOrStdout()
	invalid := 0
	for _, src := range sources {
		if !reportRule(out, src, validateFlags.showJSON) {
			invalid++
		}
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d rules are invalid", invalid, len(sources))
	}
	return nil
}

// reportRule prints the verdict for one expression and reports whether it
// is valid.
func reportRule(w io.Writer, src string, showJSON bool) bool {
	expr, err := dsl.Parse(src)
	if err != nil {
		fmt.Fprintf(w, "✗ %s\n", src)
		printParseErrors(w, src, err)
		return false
	}

	fmt.Fprintf(w, "✓ %s\n", dsl.Normalize(expr))
	if showJSON {
		tree, err := dsl.ToJSON(expr)
		if err != nil {
			fmt.Fprintf(w, "  failed to encode tree: %v\n", err)
			return false
		}
		var indented strings.Builder
		enc := json.NewEncoder(&indented)
		enc.SetIndent("  ", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(tree); err == nil {
			fmt.Fprintf(w, "  %s", indented.String())
		}
	}
	return true
}

// printParseErrors lists the leaf errors with a caret under each position.
func printParseErrors(w io.Writer, src string, err error) {
	perr, ok := dsl.AsParserError(err)
	if !ok {
		fmt.Fprintf(w, "  %v\n", err)
		return
	}
	for _, leaf := range perr.Flatten() {
		fmt.Fprintf(w, "  [%s] %s\n", leaf.Code, leaf.Detail)
		if leaf.Position != nil {
			fmt.Fprintf(w, "    %s\n", src)
			fmt.Fprintf(w, "    %s^\n", strings.Repeat(" ", leaf.Position.Offset))
		}
		if leaf.Suggestion != "" {
			fmt.Fprintf(w, "    did you mean '%s'?\n", leaf.Suggestion)
		}
	}
}

// readRuleFile returns the rule lines of path, skipping blanks and
// '#' comments.
func readRuleFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rule file: %w", err)
	}
	defer f.Close()

	var rules []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rules = append(rules, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("no rules in %s", path)
	}
	return rules, nil
}
