// Demonstrates the WorkTable API end to end: INSERT, SELECT, UPDATE,
// DELETE, a unique and a non-unique secondary index, and persisting the
// indexes to disk.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/pathscale/worktable/cdcindex"
	"github.com/pathscale/worktable/pagestore"
	"github.com/pathscale/worktable/persistence"
	"github.com/pathscale/worktable/worktable"
)

type job struct {
	ID      uuid.UUID
	Kind    string
	Retry   int
	Enabled bool
}

func main() {
	dir, err := os.MkdirTemp("", "worktable-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	cfg := persistence.PersistenceConfig{DBDir: dir, TableDir: "jobs"}
	if err := cfg.EnsureDir(); err != nil {
		log.Fatal(err)
	}

	dataPages, err := pagestore.Open(cfg.DataFilePath("jobs"), pagestore.NewUnsized())
	if err != nil {
		log.Fatal(err)
	}
	defer dataPages.Close()

	engine := persistence.New(cfg, "jobs", dataPages)

	primary := persistence.NewSpaceIndex[uuid.UUID](persistence.PrimaryIndexName, uuidLess)
	engine.RegisterPrimary(primary.Adapter(persistence.EventToChangeEvent[uuid.UUID]))

	kindLess := func(a, b string) bool { return a < b }
	byKind := persistence.NewSpaceIndex[cdcindex.Discriminated[string]]("by_kind", cdcindex.NonUniqueLess(kindLess))
	engine.RegisterSecondary(byKind.Adapter(persistence.EventToChangeEvent[cdcindex.Discriminated[string]]))

	tbl, err := worktable.New(worktable.Config[job, uuid.UUID]{
		Name:        "jobs",
		PkOf:        func(j job) uuid.UUID { return j.ID },
		WithPk:      func(j job, pk uuid.UUID) job { j.ID = pk; return j },
		PkLess:      uuidLess,
		PkGenerator: worktable.NewCustomGenerator(uuid.New),
		DataPages:   dataPages,
		Persistence: engine,
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := worktable.NewNonUniqueSecondaryIndex(tbl, "by_kind", func(j job) string { return j.Kind },
		kindLess); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()

	fmt.Println("--- INSERT ---")
	rows := []job{
		{Kind: "oracle", Retry: 5, Enabled: true},
		{Kind: "mysql", Retry: 2, Enabled: true},
		{Kind: "postgres", Retry: 0, Enabled: false},
		{Kind: "oracle", Retry: 8, Enabled: true},
	}
	var oracleID uuid.UUID
	for _, j := range rows {
		pk, err := tbl.Insert(ctx, j)
		if err != nil {
			log.Fatalf("insert: %v", err)
		}
		if j.Kind == "oracle" && oracleID == uuid.Nil {
			oracleID = pk
		}
		fmt.Printf("  inserted %s (pk=%s)\n", j.Kind, pk)
	}

	fmt.Println("\n--- SELECT ALL ---")
	for _, j := range tbl.SelectAll().OrderBy(func(a, b job) bool { return a.Retry < b.Retry }, false).Execute() {
		fmt.Printf("  %+v\n", j)
	}

	fmt.Println("\n--- SELECT BY by_kind=oracle ---")
	q, err := tbl.SelectBy("by_kind", "oracle")
	if err != nil {
		log.Fatal(err)
	}
	for _, j := range q.Execute() {
		fmt.Printf("  %+v\n", j)
	}

	fmt.Println("\n--- UPDATE retry for the first oracle job ---")
	if err := tbl.UpdateByPk(ctx, oracleID, func(j job) job {
		j.Retry = 99
		return j
	}); err != nil {
		log.Fatal(err)
	}
	updated, err := tbl.Select(ctx, oracleID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("  %+v\n", updated)

	fmt.Println("\n--- DELETE disabled jobs ---")
	disabled, err := tbl.SelectBy("by_kind", "postgres")
	if err != nil {
		log.Fatal(err)
	}
	for _, j := range disabled.Execute() {
		if !j.Enabled {
			if err := tbl.Delete(ctx, j.ID); err != nil {
				log.Fatal(err)
			}
			fmt.Printf("  deleted %s\n", j.ID)
		}
	}

	fmt.Printf("\nremaining rows: %d\n", tbl.Count())

	if err := engine.Persist(); err != nil {
		log.Fatalf("persist: %v", err)
	}
	fmt.Println("persisted primary and secondary index headers to", dir)
}

func uuidLess(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
