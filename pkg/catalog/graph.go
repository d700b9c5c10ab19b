package catalog

import (
	"sort"

	"github.com/ekaya-inc/portfolio-chat/pkg/models"
)

// Edge is a directed foreign-key hop from one table to another.
type Edge struct {
	From models.ColumnRef
	To   models.ColumnRef
}

// JoinGraph is the fact -> dimension -> dimension adjacency derived from the catalog.
// Edges only point away from facts so a path never fans out through a second fact.
type JoinGraph struct {
	// Adjacency list: table -> outgoing edges, sorted by preference
	edges  map[string][]Edge
	tables map[string]bool
}

func buildJoinGraph(c *Catalog) *JoinGraph {
	g := &JoinGraph{
		edges:  make(map[string][]Edge),
		tables: make(map[string]bool),
	}

	for table, fact := range c.facts {
		g.tables[table] = true
		for kind, col := range fact.Dimensions {
			e := c.entities[kind]
			g.add(Edge{
				From: models.ColumnRef{Table: table, Column: col},
				To:   models.ColumnRef{Table: e.Table, Column: e.Key},
			})
		}
		g.add(Edge{
			From: models.ColumnRef{Table: table, Column: fact.DateKey},
			To:   models.ColumnRef{Table: c.time.Table, Column: c.time.Key},
		})
	}

	for _, e := range c.entities {
		g.tables[e.Table] = true
		for _, l := range e.Links {
			target := c.entities[l.Entity]
			g.add(Edge{
				From: models.ColumnRef{Table: e.Table, Column: l.Column},
				To:   models.ColumnRef{Table: target.Table, Column: target.Key},
			})
		}
	}

	// Neighbours are visited in preference order so equal-length paths resolve the same way every time.
	rank := make(map[string]int, len(c.JoinPreference))
	for i, kind := range c.JoinPreference {
		rank[kind] = i
	}
	rankOf := func(table string) int {
		if r, ok := rank[c.tableKinds[table]]; ok {
			return r
		}
		return len(rank)
	}
	for table := range g.edges {
		out := g.edges[table]
		sort.SliceStable(out, func(i, j int) bool {
			ri, rj := rankOf(out[i].To.Table), rankOf(out[j].To.Table)
			if ri != rj {
				return ri < rj
			}
			return out[i].To.Table < out[j].To.Table
		})
	}

	return g
}

func (g *JoinGraph) add(e Edge) {
	g.tables[e.From.Table] = true
	g.tables[e.To.Table] = true
	g.edges[e.From.Table] = append(g.edges[e.From.Table], e)
}

// Neighbors returns the outgoing edges of table in preference order.
func (g *JoinGraph) Neighbors(table string) []Edge {
	return append([]Edge(nil), g.edges[table]...)
}

// ShortestPath returns the edges of the shortest path from -> to using BFS.
// Among paths of equal length the one through preferred tables wins.
// ok is false when to is unreachable.
func (g *JoinGraph) ShortestPath(from, to string) ([]Edge, bool) {
	if from == to {
		return nil, true
	}
	if !g.tables[from] || !g.tables[to] {
		return nil, false
	}

	visited := map[string]bool{from: true}
	via := make(map[string]Edge)
	queue := []string{from}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, e := range g.edges[current] {
			next := e.To.Table
			if visited[next] {
				continue
			}
			visited[next] = true
			via[next] = e
			if next == to {
				return g.unwind(from, to, via), true
			}
			queue = append(queue, next)
		}
	}

	return nil, false
}

func (g *JoinGraph) unwind(from, to string, via map[string]Edge) []Edge {
	var path []Edge
	for at := to; at != from; {
		e := via[at]
		path = append(path, e)
		at = e.From.Table
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Reachable reports whether to can be joined from from.
func (g *JoinGraph) Reachable(from, to string) bool {
	_, ok := g.ShortestPath(from, to)
	return ok
}
