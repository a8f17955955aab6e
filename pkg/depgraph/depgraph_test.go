package depgraph

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/fleetupdate/agent/pkg/catalog"
)

func newTestDB(t *testing.T, items ...catalog.Pkginfo) *catalog.DB {
	t.Helper()
	data, err := yaml.Marshal(items)
	if err != nil {
		t.Fatalf("marshaling fixture catalog: %v", err)
	}
	path := filepath.Join(t.TempDir(), "production.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing fixture catalog: %v", err)
	}
	db := catalog.NewDB()
	if err := db.Load("production", path); err != nil {
		t.Fatalf("loading fixture catalog: %v", err)
	}
	return db
}

func TestWriteIncludesRequiresAndUpdateForEdges(t *testing.T) {
	db := newTestDB(t,
		catalog.Pkginfo{Name: "Suite", Version: "1.0", Requires: []string{"Runtime"}},
		catalog.Pkginfo{Name: "Runtime", Version: "2.0"},
		catalog.Pkginfo{Name: "SuiteHotfix", Version: "1.0.1", UpdateFor: []interface{}{"Suite"}},
	)

	var buf strings.Builder
	if err := Write(&buf, db, []string{"production"}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	out := buf.String()

	for _, want := range []string{"Suite", "Runtime", "SuiteHotfix", "requires", "update_for"} {
		if !strings.Contains(out, want) {
			t.Errorf("dot output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteEmptyCatalogProducesValidEmptyGraph(t *testing.T) {
	db := newTestDB(t)

	var buf strings.Builder
	if err := Write(&buf, db, []string{"production"}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if !strings.Contains(buf.String(), "digraph") {
		t.Errorf("expected a digraph header even with no items, got:\n%s", buf.String())
	}
}
