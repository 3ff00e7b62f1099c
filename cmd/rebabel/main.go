// Command rebabel is a minimal demonstration entry point: it opens (or
// creates) a corpus file, registers a couple of feature definitions,
// stages a handful of units through the importer runtime, and prints
// the result of a small query. Format conversion, process dispatch,
// and a full CLI surface are out of scope; this exists to exercise the
// store, staging buffer, planner, and result layers end to end.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mr-martian/rebabel-format/internal/store"
	"github.com/mr-martian/rebabel-format/pkg/mapping"
	"github.com/mr-martian/rebabel-format/pkg/planner"
	"github.com/mr-martian/rebabel-format/pkg/query"
	"github.com/mr-martian/rebabel-format/pkg/result"
	"github.com/mr-martian/rebabel-format/pkg/stage"
)

func main() {
	path := flag.String("corpus", ":memory:", "path to a reBabel corpus file")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(*path, log); err != nil {
		log.Error("rebabel: fatal", "cause", err)
		os.Exit(1)
	}
}

func run(path string, log *slog.Logger) error {
	st, err := store.Open(path, log)
	if err != nil {
		return fmt.Errorf("open corpus: %w", err)
	}
	defer st.Close()

	if err := st.CreateFeature("sentence", "meta", "id", store.ValueStr); err != nil {
		return err
	}
	if err := st.CreateFeature("token", "upos", "tag", store.ValueStr); err != nil {
		return err
	}
	if err := st.CreateFeature("token", "meta", "index", store.ValueInt); err != nil {
		return err
	}

	buf := stage.New(st, &mapping.Mapping{}, nil, false, log)
	buf.SetType("s1", "sentence")
	buf.SetFeature("s1", "meta:id", store.ValueStr, "s1")
	for i, tok := range []string{"The", "cat", "sat"} {
		name := fmt.Sprintf("t%d", i)
		buf.SetType(name, "token")
		buf.SetParent(name, "s1")
		buf.SetFeature(name, "meta:index", store.ValueInt, int64(i))
		buf.SetFeature(name, "upos:tag", store.ValueStr, tok)
	}
	ids, err := buf.FinishBlock()
	if err != nil {
		return fmt.Errorf("finish block: %w", err)
	}
	log.Info("staged block", "units", len(ids))

	q := &query.Query{
		Units: []query.Unit{
			query.NewUnit("t", "token").WithOrder("meta:index"),
		},
	}
	matches, err := planner.Search(st, q)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	table := result.New(st, matches)
	if err := table.AddFeatures("t", []string{"upos:tag"}, nil); err != nil {
		return fmt.Errorf("add features: %w", err)
	}
	for _, row := range table.Results() {
		fmt.Printf("token %v: %v\n", row["t"], row["t.upos:tag"])
	}
	return nil
}
