// Command corpusql is a demo CLI shell around the engine package: lex,
// parse, validate, evaluate, and print a ResultTable. It is out of the
// core engine's scope (spec §1 "Out of scope... the CLI shell") but
// carries the ambient stack the teacher's own cmd/datalog/main.go does —
// flag.FlagSet options, log.Fatalf on unrecoverable startup errors, a
// markdown-rendered result table via tablewriter, and fatih/color
// highlighting of SNIPPET's "*...*" match markers.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/wbrown/corpusql/annotate"
	"github.com/wbrown/corpusql/engine"
	"github.com/wbrown/corpusql/index"
	"github.com/wbrown/corpusql/indexstore/badgerindex"
	"github.com/wbrown/corpusql/indexstore/memindex"
	"github.com/wbrown/corpusql/match"
	"github.com/wbrown/corpusql/result"
)

func main() {
	var dbPath string
	var interactive bool
	var help bool
	var verbose bool
	var queryStr string
	var timeout time.Duration

	flag.StringVar(&dbPath, "db", "", "badger database path (omit for an in-memory demo corpus)")
	flag.BoolVar(&interactive, "i", false, "interactive mode")
	flag.BoolVar(&help, "h", false, "show help")
	flag.BoolVar(&verbose, "verbose", false, "verbose mode (show evaluator annotations)")
	flag.StringVar(&queryStr, "query", "", "run a single query and exit")
	flag.DurationVar(&timeout, "timeout", 0, "per-query wall-clock timeout, e.g. 5s (0 disables)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "A structured query engine over a linguistically annotated corpus.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                     # run demo queries against an in-memory corpus\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i                                  # interactive mode\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -query 'SELECT * FROM c WHERE CONTAINS(\"Obama\")'\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -db ./corpus.badger -verbose        # persistent corpus, show annotations\n", os.Args[0])
	}
	flag.Parse()

	if help {
		flag.Usage()
		os.Exit(0)
	}

	mgr, tp, closeFn := openCorpus(dbPath)
	defer closeFn()

	var handler annotate.Handler
	if verbose {
		handler = annotate.Handler(func(evt annotate.Event) {
			fmt.Fprintln(os.Stderr, formatEvent(evt))
		})
	}

	opts := []engine.Option{engine.WithHandler(handler)}
	if timeout > 0 {
		opts = append(opts, engine.WithTimeout(timeout))
	}

	switch {
	case queryStr != "":
		runQuery(mgr, tp, queryStr, opts)
	case interactive:
		runInteractive(mgr, tp, opts)
	default:
		runDemo(mgr, tp, opts)
	}
}

// openCorpus opens a persistent badger-backed corpus at path, seeding it
// with demo data on first use, or falls back to an in-memory demo corpus
// when no path was given. Corpus ingestion is out of the engine's scope
// (spec §1); this is the CLI's own bootstrap for a runnable demo.
func openCorpus(path string) (index.Manager, index.TextProvider, func()) {
	if path == "" {
		s := memindex.New()
		seedDemoCorpus(memindexSeeder{s})
		return s.Manager(), s.TextProvider(), func() {}
	}

	fresh := true
	if _, err := os.Stat(path); err == nil {
		fresh = false
	}
	store, err := badgerindex.Open(path)
	if err != nil {
		log.Fatalf("failed to open corpus at %s: %v", path, err)
	}
	if fresh {
		fmt.Printf("Corpus %s is new, seeding demo data...\n", path)
		seedDemoCorpus(badgerSeeder{store})
	}
	return store.Manager(), store.TextProvider(), func() { _ = store.Close() }
}

// seeder abstracts over memindex.Store and badgerindex.Store so the demo
// corpus is written once regardless of which backing the CLI chose.
type seeder interface {
	document(id int, text string)
	term(word string, p match.Position)
	entity(nerType, surface string, p match.Position)
}

type memindexSeeder struct{ s *memindex.Store }

func (m memindexSeeder) document(id int, text string) { m.s.AddDocument(id, text) }
func (m memindexSeeder) term(word string, p match.Position) { m.s.AddTerm(word, p) }
func (m memindexSeeder) entity(nerType, surface string, p match.Position) {
	m.s.AddEntity(nerType, surface, p)
}

type badgerSeeder struct{ s *badgerindex.Store }

func (b badgerSeeder) document(id int, text string) {
	if err := b.s.AddDocument(id, text); err != nil {
		log.Fatalf("seeding document %d: %v", id, err)
	}
}
func (b badgerSeeder) term(word string, p match.Position) {
	if err := b.s.AddTerm(word, p); err != nil {
		log.Fatalf("seeding term %q: %v", word, err)
	}
}
func (b badgerSeeder) entity(nerType, surface string, p match.Position) {
	if err := b.s.AddEntity(nerType, surface, p); err != nil {
		log.Fatalf("seeding entity %q: %v", surface, err)
	}
}

func seedDemoCorpus(s seeder) {
	s.document(1, "President Obama spoke with the press today.")
	s.document(2, "President Bush visited the troops in Boston.")
	s.document(3, "Obama returned to Chicago after the summit.")

	s.term("obama", match.Position{DocID: 1, SentenceID: match.SentenceWildcard, Begin: 10, End: 15})
	s.term("obama", match.Position{DocID: 3, SentenceID: match.SentenceWildcard, Begin: 0, End: 5})
	s.term("president", match.Position{DocID: 1, SentenceID: match.SentenceWildcard, Begin: 0, End: 9})
	s.term("president", match.Position{DocID: 2, SentenceID: match.SentenceWildcard, Begin: 0, End: 9})

	s.entity("PERSON", "Obama", match.Position{DocID: 1, SentenceID: match.SentenceWildcard, Begin: 10, End: 15})
	s.entity("PERSON", "Bush", match.Position{DocID: 2, SentenceID: match.SentenceWildcard, Begin: 10, End: 14})
	s.entity("PERSON", "Obama", match.Position{DocID: 3, SentenceID: match.SentenceWildcard, Begin: 0, End: 5})
	s.entity("LOCATION", "Boston", match.Position{DocID: 2, SentenceID: match.SentenceWildcard, Begin: 32, End: 38})
	s.entity("LOCATION", "Chicago", match.Position{DocID: 3, SentenceID: match.SentenceWildcard, Begin: 20, End: 27})
}

func runDemo(mgr index.Manager, tp index.TextProvider, opts []engine.Option) {
	fmt.Println("=== corpusql demo ===")
	queries := []string{
		`SELECT * FROM c WHERE CONTAINS("Obama")`,
		`SELECT ?p FROM c WHERE NER(PERSON, ?p) ORDER BY ?p ASC`,
		`SELECT ?p, SNIPPET(?p) FROM c WHERE NER(PERSON, ?p) AND CONTAINS("president")`,
		`SELECT COUNT(DOCUMENTS) FROM c WHERE NER(PERSON, ?p)`,
	}
	for _, q := range queries {
		fmt.Printf("\nQuery: %s\n", q)
		printResult(mgr, tp, q, opts)
	}
}

func runInteractive(mgr index.Manager, tp index.TextProvider, opts []engine.Option) {
	fmt.Println("=== corpusql interactive mode ===")
	fmt.Println("Enter a query, or .exit to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == ".exit" {
			return
		}
		printResult(mgr, tp, line, opts)
	}
}

func runQuery(mgr index.Manager, tp index.TextProvider, q string, opts []engine.Option) {
	printResult(mgr, tp, q, opts)
}

func printResult(mgr index.Manager, tp index.TextProvider, q string, opts []engine.Option) {
	start := time.Now()
	table, err := engine.Execute(context.Background(), q, mgr, tp, opts...)
	elapsed := time.Since(start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	fmt.Print(renderTable(table))
	fmt.Printf("_%d rows (%.3fms)_\n", len(table.Rows), float64(elapsed.Microseconds())/1000.0)
}

var snippetMarker = regexp.MustCompile(`\*[^*]*\*`)

func colorizeSnippet(s string) string {
	return snippetMarker.ReplaceAllStringFunc(s, func(m string) string {
		return color.New(color.FgYellow, color.Bold).Sprint(strings.Trim(m, "*"))
	})
}

func renderTable(t *result.Table) string {
	var b strings.Builder
	alignment := make([]tw.Align, len(t.Columns))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}
	tbl := tablewriter.NewTable(&b,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	tbl.Header(t.Columns)
	for _, row := range t.Rows {
		rendered := make([]string, len(row))
		for i, cell := range row {
			rendered[i] = colorizeSnippet(cell)
		}
		tbl.Append(rendered)
	}
	tbl.Render()
	return b.String()
}

func formatEvent(evt annotate.Event) string {
	switch evt.Name {
	case annotate.QueryInvoked:
		return color.CyanString("invoked: %v", evt.Data["query"])
	case annotate.QueryCompleted:
		return color.GreenString("completed: %d rows in %s", evt.Data["rows"], evt.Latency)
	case annotate.ValidateWarning:
		return color.YellowString("warning: %v=%v", evt.Data["field"], evt.Data["value"])
	case annotate.EvalLeaf:
		return fmt.Sprintf("  leaf %v", evt.Data["path"])
	case annotate.EvalCombine:
		return fmt.Sprintf("  combine %v %v", evt.Data["op"], evt.Data["path"])
	default:
		return color.RedString("%s: %v", evt.Name, evt.Data["error"])
	}
}
