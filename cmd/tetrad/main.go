package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/tetrad-db/tetrad/pkg/rdf"
	"github.com/tetrad-db/tetrad/pkg/sparql/algebra"
	"github.com/tetrad-db/tetrad/pkg/sparql/executor"
	"github.com/tetrad-db/tetrad/pkg/store"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: tetrad <command> [args]")
		fmt.Println("Commands:")
		fmt.Println("  demo [path]    - Load sample data and run example queries")
		fmt.Println("  stats <path>   - Print quad and named-graph counts")
		fmt.Println("  compact <path> - Reclaim space left by deleted quads")
		os.Exit(1)
	}

	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)

	switch os.Args[1] {
	case "demo":
		path := "./tetrad_data"
		if len(os.Args) >= 3 {
			path = os.Args[2]
		}
		runDemo(log, path)
	case "stats":
		if len(os.Args) < 3 {
			fmt.Println("Usage: tetrad stats <path>")
			os.Exit(1)
		}
		runStats(log, os.Args[2])
	case "compact":
		if len(os.Args) < 3 {
			fmt.Println("Usage: tetrad compact <path>")
			os.Exit(1)
		}
		runCompact(log, os.Args[2])
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func runDemo(log *logrus.Logger, path string) {
	db, err := store.Open(path, store.WithLogger(log))
	if err != nil {
		log.WithError(err).Fatal("open store")
	}
	defer db.Close()

	alice := rdf.NewNamedNode("http://example.org/alice")
	bob := rdf.NewNamedNode("http://example.org/bob")
	carol := rdf.NewNamedNode("http://example.org/carol")
	knows := rdf.NewNamedNode("http://xmlns.com/foaf/0.1/knows")
	name := rdf.NewNamedNode("http://xmlns.com/foaf/0.1/name")
	age := rdf.NewNamedNode("http://xmlns.com/foaf/0.1/age")

	quads := []*rdf.Quad{
		rdf.NewQuad(alice, name, rdf.NewLiteral("Alice"), rdf.NewDefaultGraph()),
		rdf.NewQuad(alice, age, rdf.NewIntegerLiteral(30), rdf.NewDefaultGraph()),
		rdf.NewQuad(alice, knows, bob, rdf.NewDefaultGraph()),
		rdf.NewQuad(bob, name, rdf.NewLiteral("Bob"), rdf.NewDefaultGraph()),
		rdf.NewQuad(bob, age, rdf.NewIntegerLiteral(42), rdf.NewDefaultGraph()),
		rdf.NewQuad(bob, knows, carol, rdf.NewDefaultGraph()),
		rdf.NewQuad(carol, name, rdf.NewLiteral("Carol"), rdf.NewDefaultGraph()),
	}
	if err := db.InsertQuads(quads); err != nil {
		log.WithError(err).Fatal("insert sample data")
	}
	fmt.Printf("Inserted %d quads\n\n", len(quads))

	snap, err := db.Snapshot()
	if err != nil {
		log.WithError(err).Fatal("open snapshot")
	}
	defer snap.Close()

	// Who does Alice know, and what are they called?
	query := &algebra.SelectQuery{
		Variables: []*algebra.Variable{
			algebra.NewVariable("friend"),
			algebra.NewVariable("friendName"),
		},
		Where: &algebra.BGP{Patterns: []*algebra.QuadPattern{
			{Subject: algebra.Term(alice), Predicate: algebra.Term(knows), Object: algebra.Var("friend")},
			{Subject: algebra.Var("friend"), Predicate: algebra.Term(name), Object: algebra.Var("friendName")},
		}},
	}

	results, err := executor.New(snap).Select(query)
	if err != nil {
		log.WithError(err).Fatal("run query")
	}
	fmt.Println("Alice knows:")
	for results.Next() {
		binding := results.Binding()
		friend, _ := binding.Get("friend")
		friendName, _ := binding.Get("friendName")
		fmt.Printf("  %s %s\n", friend, friendName)
	}
	if err := results.Err(); err != nil {
		log.WithError(err).Fatal("drain results")
	}
	results.Close()

	// Anyone older than 35?
	older := &algebra.AskQuery{
		Where: &algebra.Filter{
			Input: &algebra.BGP{Patterns: []*algebra.QuadPattern{
				{Subject: algebra.Var("who"), Predicate: algebra.Term(age), Object: algebra.Var("age")},
			}},
			Expr: &algebra.BinaryExpression{
				Left:     &algebra.VariableExpression{Variable: algebra.NewVariable("age")},
				Operator: algebra.OpGreaterThan,
				Right:    &algebra.ConstantExpression{Term: rdf.NewIntegerLiteral(35)},
			},
		},
	}
	found, err := executor.New(snap).Ask(older)
	if err != nil {
		log.WithError(err).Fatal("run ask")
	}
	fmt.Printf("\nAnyone older than 35: %t\n", found)
}

func runStats(log *logrus.Logger, path string) {
	db, err := store.Open(path, store.WithLogger(log))
	if err != nil {
		log.WithError(err).Fatal("open store")
	}
	defer db.Close()

	snap, err := db.Snapshot()
	if err != nil {
		log.WithError(err).Fatal("open snapshot")
	}
	defer snap.Close()

	count, err := snap.Count()
	if err != nil {
		log.WithError(err).Fatal("count quads")
	}
	graphs, err := snap.Graphs()
	if err != nil {
		log.WithError(err).Fatal("list graphs")
	}

	fmt.Printf("Quads:        %d\n", count)
	fmt.Printf("Named graphs: %d\n", len(graphs))
	for _, g := range graphs {
		fmt.Printf("  %s\n", g)
	}
}

func runCompact(log *logrus.Logger, path string) {
	db, err := store.Open(path, store.WithLogger(log))
	if err != nil {
		log.WithError(err).Fatal("open store")
	}
	defer db.Close()

	if err := db.Compact(context.Background()); err != nil {
		log.WithError(err).Fatal("compact store")
	}
	fmt.Println("Compaction complete")
}
