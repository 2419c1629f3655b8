package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/dsl"
	"github.com/opensource-finance/fraudguard/internal/rules"
)

// labelColumn marks a row as known fraud when it holds "1" or "true".
const labelColumn = "isfraud"

var benchFlags struct {
	csvPath   string
	rulesPath string
	rules     []string
	backend   string
	workers   int
	limit     int
	verbose   bool
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure rules against labelled transactions",
	Long: `Evaluate a rule set against labelled transactions in-process and report
the confusion matrix, detection metrics and throughput.

The CSV header names the fact fields (amount, currency, merchantId,
ipAddress, deviceId, user.age, user.region) plus an isFraud column.
Unknown columns are ignored and empty cells are absent facts.

Examples:
  fraudguard bench --csv labelled.csv --rules rules.txt
  fraudguard bench --csv labelled.csv --rule "amount > 5000" --backend cel --workers 8`,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().StringVar(&benchFlags.csvPath, "csv", "", "labelled transaction CSV (required)")
	benchCmd.Flags().StringVar(&benchFlags.rulesPath, "rules", "", "file with one rule per line")
	benchCmd.Flags().StringArrayVar(&benchFlags.rules, "rule", nil, "rule expression (repeatable)")
	benchCmd.Flags().StringVar(&benchFlags.backend, "backend", domain.BackendNative, "evaluation backend: native, cel")
	benchCmd.Flags().IntVar(&benchFlags.workers, "workers", 4, "concurrent evaluators")
	benchCmd.Flags().IntVar(&benchFlags.limit, "limit", 0, "maximum transactions to evaluate (0 = all)")
	benchCmd.Flags().BoolVar(&benchFlags.verbose, "verbose", false, "print each misclassified transaction")
}

// labelledFacts is one CSV row.
type labelledFacts struct {
	Line    int
	Facts   *dsl.Facts
	IsFraud bool
}

// BenchMetrics tracks benchmark results.
type BenchMetrics struct {
	TruePositives  int64 // fraud declined
	FalsePositives int64 // legitimate declined
	TrueNegatives  int64 // legitimate approved
	FalseNegatives int64 // fraud approved

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64

	RuleHits map[string]*atomic.Int64
}

// Precision is TP / (TP + FP).
func (m *BenchMetrics) Precision() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
}

// Recall is TP / (TP + FN).
func (m *BenchMetrics) Recall() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (m *BenchMetrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is the share of correct verdicts.
func (m *BenchMetrics) Accuracy() float64 {
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	return ratio(m.TruePositives+m.TrueNegatives, total)
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func runBench(cmd *cobra.Command, args []string) error {
	if benchFlags.csvPath == "" {
		return fmt.Errorf("--csv is required")
	}

	sources := benchFlags.rules
	if benchFlags.rulesPath != "" {
		lines, err := readRuleFile(benchFlags.rulesPath)
		if err != nil {
			return err
		}
		sources = append(sources, lines...)
	}
	if len(sources) == 0 {
		return fmt.Errorf("at least one --rule or a --rules file is required")
	}

	engine, err := rules.NewEngine(benchFlags.backend, benchFlags.workers)
	if err != nil {
		return err
	}
	defer engine.Close()

	out := cmd.OutOrStdout()
	for i, src := range sources {
		rule := &domain.FraudRule{
			ID:            "rule-" + strconv.Itoa(i+1),
			Name:          src,
			DSLExpression: src,
			Priority:      i + 1,
			Enabled:       true,
		}
		if err := engine.LoadRule(rule); err != nil {
			fmt.Fprintf(out, "✗ %s\n", src)
			printParseErrors(out, src, err)
			return fmt.Errorf("rule %d is invalid", i+1)
		}
	}

	rows, err := readLabelledCSV(benchFlags.csvPath, benchFlags.limit)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "FRAUDGUARD BENCHMARK")
	fmt.Fprintf(out, "\nCSV File:     %s\n", benchFlags.csvPath)
	fmt.Fprintf(out, "Rules:        %d\n", engine.RulesCount())
	fmt.Fprintf(out, "Backend:      %s\n", engine.Backend())
	fmt.Fprintf(out, "Workers:      %d\n", benchFlags.workers)
	fmt.Fprintf(out, "Transactions: %d\n", len(rows))

	start := time.Now()
	m := evaluateLabelled(cmd.Context(), engine, rows, benchFlags.workers, out, benchFlags.verbose)
	printBenchResults(out, m, engine.GetLoadedRules(), time.Since(start))
	return nil
}

// readLabelledCSV reads up to limit rows (0 for all). Malformed rows are
// skipped.
func readLabelledCSV(path string, limit int) ([]labelledFacts, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	labelIdx := -1
	fields := make(map[int]dsl.Field, len(header))
	for i, col := range header {
		col = strings.TrimSpace(col)
		if strings.EqualFold(col, labelColumn) {
			labelIdx = i
			continue
		}
		if f, ok := dsl.LookupField(col); ok {
			fields[i] = f
		}
	}
	if labelIdx < 0 {
		return nil, fmt.Errorf("CSV has no %s column", labelColumn)
	}

	var rows []labelledFacts
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil || labelIdx >= len(record) {
			continue
		}

		facts := &dsl.Facts{}
		valid := true
		for i, f := range fields {
			if i >= len(record) || record[i] == "" {
				continue
			}
			_, v, err := dsl.ParseFact(string(f), record[i])
			if err != nil {
				valid = false
				break
			}
			facts.Set(f, v)
		}
		if !valid {
			continue
		}

		label := strings.TrimSpace(record[labelIdx])
		rows = append(rows, labelledFacts{
			Line:    line,
			Facts:   facts,
			IsFraud: label == "1" || strings.EqualFold(label, "true"),
		})

		if limit > 0 && len(rows) >= limit {
			break
		}
	}

	return rows, nil
}

func evaluateLabelled(ctx context.Context, engine *rules.Engine, rows []labelledFacts, workers int, out io.Writer, verbose bool) *BenchMetrics {
	m := &BenchMetrics{RuleHits: make(map[string]*atomic.Int64)}
	for _, r := range engine.GetLoadedRules() {
		m.RuleHits[r.ID] = &atomic.Int64{}
	}
	if workers <= 0 {
		workers = 1
	}

	var outMu sync.Mutex
	work := make(chan labelledFacts, 100)
	var wg sync.WaitGroup

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range work {
				results := engine.EvaluateAll(ctx, row.Facts)

				predicted := false
				for _, r := range results {
					if r.Matched {
						predicted = true
						m.RuleHits[r.RuleID].Add(1)
					}
				}

				atomic.AddInt64(&m.TotalProcessed, 1)
				if row.IsFraud {
					atomic.AddInt64(&m.TotalFraud, 1)
				} else {
					atomic.AddInt64(&m.TotalNonFraud, 1)
				}

				switch {
				case predicted && row.IsFraud:
					atomic.AddInt64(&m.TruePositives, 1)
				case predicted && !row.IsFraud:
					atomic.AddInt64(&m.FalsePositives, 1)
				case !predicted && !row.IsFraud:
					atomic.AddInt64(&m.TrueNegatives, 1)
				default:
					atomic.AddInt64(&m.FalseNegatives, 1)
				}

				if verbose && predicted != row.IsFraud {
					outMu.Lock()
					fmt.Fprintf(out, "✗ line %-6d | fraud: %-5t | declined: %-5t | %v\n",
						row.Line, row.IsFraud, predicted, row.Facts.AsMap())
					outMu.Unlock()
				}
			}
		}()
	}

	for _, row := range rows {
		work <- row
	}
	close(work)
	wg.Wait()

	return m
}

func printBenchResults(w io.Writer, m *BenchMetrics, loaded []*domain.FraudRule, duration time.Duration) {
	fmt.Fprintln(w, "\nRESULTS")

	fmt.Fprintf(w, "\nDataset\n")
	fmt.Fprintf(w, "   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Fprintf(w, "   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Fprintf(w, "   Total Non-Fraud:  %d\n", m.TotalNonFraud)

	fmt.Fprintf(w, "\nConfusion Matrix\n")
	fmt.Fprintln(w, "                        Predicted")
	fmt.Fprintln(w, "                    DECL        APPR")
	fmt.Fprintln(w, "              ┌──────────┬──────────┐")
	fmt.Fprintf(w, "   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Fprintln(w, "              ├──────────┼──────────┤")
	fmt.Fprintf(w, "          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Fprintln(w, "              └──────────┴──────────┘")

	fmt.Fprintf(w, "\nDetection\n")
	fmt.Fprintf(w, "   Precision:  %.4f\n", m.Precision())
	fmt.Fprintf(w, "   Recall:     %.4f\n", m.Recall())
	fmt.Fprintf(w, "   F1-Score:   %.4f\n", m.F1())
	fmt.Fprintf(w, "   Accuracy:   %.4f\n", m.Accuracy())

	fmt.Fprintf(w, "\nRule Hits\n")
	for _, r := range loaded {
		fmt.Fprintf(w, "   %-8s %8d  %s\n", r.ID, m.RuleHits[r.ID].Load(), r.DSLExpression)
	}

	fmt.Fprintf(w, "\nPerformance\n")
	fmt.Fprintf(w, "   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 && duration > 0 {
		fmt.Fprintf(w, "   Avg Latency:      %.3f ms\n", float64(duration.Microseconds())/1000/float64(m.TotalProcessed))
		fmt.Fprintf(w, "   Throughput:       %.2f tx/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Fprintln(w)
}
