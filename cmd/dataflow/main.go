package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/wbrown/janus-dataflow/datalog"
	"github.com/wbrown/janus-dataflow/datalog/annotations"
	"github.com/wbrown/janus-dataflow/datalog/dataflow"
	"github.com/wbrown/janus-dataflow/datalog/plan"
	"github.com/wbrown/janus-dataflow/datalog/server"
)

type arrayFlags []string

func (a *arrayFlags) String() string {
	return fmt.Sprintf("%v", *a)
}

func (a *arrayFlags) Set(value string) error {
	*a = append(*a, value)
	return nil
}

func main() {
	var (
		rulesPath  string
		configPath string
		publish    string
		verbose    bool
		follow     bool
		facts      arrayFlags
	)

	flag.StringVar(&rulesPath, "rules", "", "EDN file with a vector of rules")
	flag.Var(&facts, "facts", "EDN file with transaction data, one epoch per file (repeatable)")
	flag.StringVar(&configPath, "config", "", "YAML server configuration")
	flag.StringVar(&publish, "publish", "", "comma separated rules to print (default: all)")
	flag.BoolVar(&verbose, "verbose", false, "verbose mode (show compile and step annotations)")
	flag.BoolVar(&follow, "follow", false, "print the updates of every epoch")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -rules rules.edn [-facts tx.edn ...] [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Compiles rules into incremental dataflows and feeds them transactions.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -rules hours.edn -facts day1.edn -facts day2.edn -follow\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -rules ancestors.edn -facts family.edn -config server.yaml -verbose\n", os.Args[0])
	}
	flag.Parse()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	if rulesPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(logger, rulesPath, configPath, publish, facts, verbose, follow); err != nil {
		level.Error(logger).Log("msg", "failed", "err", err)
		os.Exit(1)
	}
}

func run(logger log.Logger, rulesPath, configPath, publish string, facts []string, verbose, follow bool) error {
	cfg := server.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = server.LoadConfig(configPath); err != nil {
			return err
		}
	}

	var handler annotations.Handler
	if verbose {
		formatter := annotations.NewOutputFormatter(os.Stderr)
		handler = annotations.Handler(formatter.Handle)
	}

	s, err := server.New(cfg,
		server.WithLogger(logger),
		server.WithCollector(annotations.NewCollector(handler)),
	)
	if err != nil {
		return err
	}
	defer s.Close()

	src, err := os.ReadFile(rulesPath)
	if err != nil {
		return err
	}
	rules, err := server.ParseRules(string(src))
	if err != nil {
		return fmt.Errorf("%s: %w", rulesPath, err)
	}

	var txs [][]datalog.TxData
	for _, path := range facts {
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		data, err := server.ParseTxData(string(src))
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		txs = append(txs, data)
	}

	// Every attribute a rule or transaction mentions gets an input
	for _, a := range attributes(rules, txs) {
		if err := s.CreateInput(a); err != nil {
			return err
		}
	}

	var names []string
	if publish != "" {
		names = strings.Split(publish, ",")
	}
	q, err := s.Register(server.Register{Rules: rules, Publish: names})
	if err != nil {
		return err
	}

	renderer := annotations.NewRelationRenderer(!isRedirected())
	tables := server.NewTableFormatter()
	for _, out := range q.Outputs() {
		out := out
		out.Capture.Subscribe(func(epoch uint64, b dataflow.Batch) {
			added, retracted := 0, 0
			for _, u := range b {
				if u.Diff > 0 {
					added++
				} else {
					retracted++
				}
			}
			fmt.Printf("epoch %d %s %s\n", epoch, out.Name, renderer.RenderDiffs(added, retracted))
			if follow {
				fmt.Println(tables.FormatUpdates(out.Symbols, b))
			}
		})
	}

	ctx := context.Background()
	for _, data := range txs {
		if err := s.Transact(server.Transact{TxData: data}); err != nil {
			return err
		}
		if err := s.StepWhileOutdated(ctx); err != nil {
			return err
		}
	}

	for _, out := range q.Outputs() {
		fmt.Printf("\n%s %s\n\n", out.Name, renderer.RenderSymbols(symbolNames(out.Symbols)))
		fmt.Println(tables.FormatState(out))
	}
	return nil
}

// attributes returns the attributes used by rules and transactions
func attributes(rules []plan.Rule, txs [][]datalog.TxData) []datalog.Attribute {
	seen := map[datalog.Attribute]bool{}
	for _, r := range rules {
		for _, a := range plan.Attributes(r.Plan) {
			seen[a] = true
		}
	}
	for _, data := range txs {
		for _, d := range data {
			seen[d.A] = true
		}
	}
	out := make([]datalog.Attribute, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func symbolNames(syms []datalog.Var) []string {
	out := make([]string, len(syms))
	for i, s := range syms {
		out[i] = string(s)
	}
	return out
}

// isRedirected reports whether stdout is not a terminal
func isRedirected() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return true
	}
	return info.Mode()&os.ModeCharDevice == 0
}
