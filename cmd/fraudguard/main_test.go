package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/dsl"
	"github.com/opensource-finance/fraudguard/internal/rules"
)

// execute runs the root command with args after resetting every flag to
// its default, so tests do not leak flag state into each other.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "FraudGuard "+Version) {
		t.Errorf("expected version line, got %q", out)
	}
	if !strings.Contains(out, "Go Version:") {
		t.Errorf("expected Go version, got %q", out)
	}
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"serve", "validate", "eval", "bench", "version"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("expected %s command to be registered", name)
		}
	}
}

func TestValidateCommand(t *testing.T) {
	t.Run("valid rule prints canonical form", func(t *testing.T) {
		out, err := execute(t, "validate", "amount>1000 and currency='USD'")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, "✓ amount > 1000 AND currency = 'USD'") {
			t.Errorf("expected canonical form, got %q", out)
		}
	})

	t.Run("json tree", func(t *testing.T) {
		out, err := execute(t, "validate", "--json", "amount > 5")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, `"field": "amount"`) {
			t.Errorf("expected JSON tree, got %q", out)
		}
	})

	t.Run("invalid rule reports errors", func(t *testing.T) {
		out, err := execute(t, "validate", "amout > 5")
		if err == nil {
			t.Fatal("expected error for invalid rule")
		}
		if !strings.Contains(out, dsl.CodeInvalidField) {
			t.Errorf("expected %s in output, got %q", dsl.CodeInvalidField, out)
		}
		if !strings.Contains(out, "did you mean 'amount'?") {
			t.Errorf("expected suggestion in output, got %q", out)
		}
		if !strings.Contains(out, "^") {
			t.Errorf("expected position marker in output, got %q", out)
		}
	})

	t.Run("rule file", func(t *testing.T) {
		path := writeFile(t, "rules.txt", "# screening rules\namount > 100\n\ncurrency = \n")
		out, err := execute(t, "validate", "--file", path)
		if err == nil || !strings.Contains(err.Error(), "1 of 2 rules are invalid") {
			t.Fatalf("expected 1 of 2 invalid, got %v", err)
		}
		if !strings.Contains(out, "✓ amount > 100") {
			t.Errorf("expected valid rule in output, got %q", out)
		}
	})

	t.Run("nothing to validate", func(t *testing.T) {
		if _, err := execute(t, "validate"); err == nil {
			t.Error("expected error without expression or file")
		}
	})
}

func TestEvalCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"match", []string{"eval", "amount > 1000", "--fact", "amount=2500"}, "status:  DECLINED"},
		{"no match", []string{"eval", "amount > 1000", "--fact", "amount=10"}, "status:  APPROVED"},
		{"absent fact", []string{"eval", "user.age < 21"}, "matched: false"},
		{"negated absent fact", []string{"eval", "NOT user.age < 21"}, "matched: true"},
		{"cel backend", []string{"eval", "currency != 'USD'", "-F", "currency=EUR", "--backend", "cel"}, "matched: true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("expected %q in output, got %q", tt.want, out)
			}
		})
	}

	t.Run("invalid rule", func(t *testing.T) {
		if _, err := execute(t, "eval", "amount >"); err == nil {
			t.Error("expected error for invalid rule")
		}
	})

	t.Run("bad fact", func(t *testing.T) {
		if _, err := execute(t, "eval", "amount > 1", "--fact", "amount=lots"); err == nil {
			t.Error("expected error for non-numeric amount")
		}
	})
}

func TestParseFacts(t *testing.T) {
	facts, err := parseFacts([]string{"amount=12.5", "user.region=EU", "deviceId=a=b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if facts.Amount == nil || *facts.Amount != 12.5 {
		t.Errorf("expected amount 12.5, got %v", facts.Amount)
	}
	if facts.UserRegion == nil || *facts.UserRegion != "EU" {
		t.Errorf("expected region EU, got %v", facts.UserRegion)
	}
	if facts.DeviceID == nil || *facts.DeviceID != "a=b" {
		t.Errorf("expected device a=b, got %v", facts.DeviceID)
	}

	for _, bad := range []string{"amount", "colour=red", "user.age=old"} {
		if _, err := parseFacts([]string{bad}); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

const labelledCSV = `amount,currency,user.age,note,isFraud
5000,USD,19,big,1
20,USD,40,small,0
7000,EUR,35,big,0
15,GBP,18,small,1
oops,USD,30,bad row,0
`

func TestReadLabelledCSV(t *testing.T) {
	path := writeFile(t, "tx.csv", labelledCSV)

	rows, err := readLabelledCSV(path, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows (malformed skipped), got %d", len(rows))
	}
	if !rows[0].IsFraud || rows[1].IsFraud {
		t.Error("expected labels to be read from isFraud")
	}
	if rows[0].Facts.Amount == nil || *rows[0].Facts.Amount != 5000 {
		t.Errorf("expected amount 5000, got %v", rows[0].Facts.Amount)
	}
	if rows[0].Facts.MerchantID != nil {
		t.Error("expected merchantId to be absent")
	}

	limited, err := readLabelledCSV(path, 2)
	if err != nil || len(limited) != 2 {
		t.Errorf("expected 2 rows with limit, got %d (%v)", len(limited), err)
	}

	noLabel := writeFile(t, "nolabel.csv", "amount\n1\n")
	if _, err := readLabelledCSV(noLabel, 0); err == nil {
		t.Error("expected error without isFraud column")
	}
}

func TestEvaluateLabelled(t *testing.T) {
	rows, err := readLabelledCSV(writeFile(t, "tx.csv", labelledCSV), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	engine, err := rules.NewEngine(domain.BackendNative, 2)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	for i, src := range []string{"amount > 1000", "user.age < 20"} {
		rule := &domain.FraudRule{ID: []string{"big", "young"}[i], Name: src, DSLExpression: src, Priority: i + 1, Enabled: true}
		if err := engine.LoadRule(rule); err != nil {
			t.Fatalf("failed to load %q: %v", src, err)
		}
	}

	m := evaluateLabelled(context.Background(), engine, rows, 3, new(bytes.Buffer), false)

	// 5000/19 fraud: declined (TP); 20/40 legit: approved (TN);
	// 7000/35 legit: declined (FP); 15/18 fraud: declined (TP).
	if m.TruePositives != 2 || m.FalsePositives != 1 || m.TrueNegatives != 1 || m.FalseNegatives != 0 {
		t.Errorf("unexpected confusion matrix: TP=%d FP=%d TN=%d FN=%d",
			m.TruePositives, m.FalsePositives, m.TrueNegatives, m.FalseNegatives)
	}
	if m.TotalProcessed != 4 || m.TotalFraud != 2 || m.TotalNonFraud != 2 {
		t.Errorf("unexpected totals: %d processed, %d fraud, %d legit", m.TotalProcessed, m.TotalFraud, m.TotalNonFraud)
	}
	if got := m.RuleHits["big"].Load(); got != 2 {
		t.Errorf("expected 2 hits for big, got %d", got)
	}
	if got := m.RuleHits["young"].Load(); got != 2 {
		t.Errorf("expected 2 hits for young, got %d", got)
	}
	if m.Recall() != 1 {
		t.Errorf("expected recall 1, got %f", m.Recall())
	}
	if p := m.Precision(); p < 0.66 || p > 0.67 {
		t.Errorf("expected precision 2/3, got %f", p)
	}
}

func TestBenchCommand(t *testing.T) {
	csvPath := writeFile(t, "tx.csv", labelledCSV)
	rulesPath := writeFile(t, "rules.txt", "amount > 1000\n")

	out, err := execute(t, "bench", "--csv", csvPath, "--rules", rulesPath, "--rule", "user.age < 20")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Rules:        2", "Transactions: 4", "Precision:", "Throughput:"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got %q", want, out)
		}
	}

	if _, err := execute(t, "bench", "--rule", "amount > 1"); err == nil {
		t.Error("expected error without --csv")
	}
	if _, err := execute(t, "bench", "--csv", csvPath, "--rule", "amount >"); err == nil {
		t.Error("expected error for invalid rule")
	}
}
