// Package depgraph renders a catalog's requires/update_for
// relationships as a Graphviz dot graph, for admins diagnosing why an
// item did or didn't resolve the way they expected.
package depgraph

import (
	"io"

	"github.com/emicklei/dot"
	"github.com/pkg/errors"

	"github.com/fleetupdate/agent/pkg/catalog"
)

// Write builds a directed graph over every pkginfo visible across
// catalogList (requires edges point from dependent to dependency,
// update_for edges point from update to the item it updates) and
// writes it in dot format to w.
func Write(w io.Writer, db *catalog.DB, catalogList []string) error {
	g := dot.NewGraph(dot.Directed)
	nodes := make(map[string]dot.Node)

	nodeFor := func(name string) dot.Node {
		if n, ok := nodes[name]; ok {
			return n
		}
		n := g.Node(name)
		n.Label(name)
		nodes[name] = n
		return n
	}

	for _, pkg := range db.AllItems(catalogList) {
		self := nodeFor(pkg.Name)
		self.Attr("version", pkg.Version)

		for _, req := range pkg.Requires {
			reqName, _ := catalog.SplitNameVersion(req)
			g.Edge(self, nodeFor(reqName)).Attr("label", "requires")
		}
		for _, target := range pkg.UpdateForList() {
			targetName, _ := catalog.SplitNameVersion(target)
			g.Edge(self, nodeFor(targetName)).Attr("label", "update_for").Attr("color", "blue")
		}
	}

	dotString := g.String()
	if dotString == "" {
		return errors.New("dependency graph is empty")
	}
	_, err := w.Write([]byte(dotString))
	return err
}
