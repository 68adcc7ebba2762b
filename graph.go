package cortex

import "context"

// GraphAdapter is the optional external graph-store capability, backing
// the reference graph (C3) and its sync worker (C7). Implemented externally
// against Neo4j, Memgraph, or any Cypher-compatible store; cortex never talks
// to the graph store directly except through this interface.
type GraphAdapter interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	UpsertNode(ctx context.Context, label string, props map[string]any) (string, error)
	UpdateNode(ctx context.Context, id string, props map[string]any) error
	DeleteNode(ctx context.Context, id string, cleanupOrphans bool) error
	FindNodes(ctx context.Context, label string, filter map[string]any, limit int) ([]GraphEntity, error)
	Relate(ctx context.Context, from, relType, to string, props map[string]any) error
	Unrelate(ctx context.Context, from, relType, to string) error
	// Query runs a Cypher-like query with bound params, returning raw rows.
	Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}

// graphEdgeTypes are the only relationship kinds the core ever asks an
// adapter to expand along.
const (
	edgeMentions    = "MENTIONS"
	edgeRelatedTo   = "RELATED_TO"
	edgeDerivedFrom = "DERIVED_FROM"
)

// expandGraph walks one or two hops from the given seed entity ids along
// MENTIONS/RELATED_TO/DERIVED_FROM edges, returning entities not already in
// seeds. Used by Recall when ExpandGraph is set and a GraphAdapter is
// configured.
func (c *Client) expandGraph(ctx context.Context, seeds []string, limit int) ([]GraphEntity, error) {
	if c.cfg.graph == nil || len(seeds) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(seeds))
	for _, id := range seeds {
		seen[id] = struct{}{}
	}

	var out []GraphEntity
	frontier := seeds
	for hop := 0; hop < 2 && len(out) < limit; hop++ {
		next := make([]string, 0)
		for _, id := range frontier {
			for _, edge := range []string{edgeMentions, edgeRelatedTo, edgeDerivedFrom} {
				rows, err := c.cfg.graph.Query(ctx,
					"MATCH (a {id:$id})-["+edge+"]-(b) RETURN b",
					map[string]any{"id": id})
				if err != nil {
					return out, err
				}
				for _, row := range rows {
					bid, _ := row["id"].(string)
					if bid == "" {
						continue
					}
					if _, dup := seen[bid]; dup {
						continue
					}
					seen[bid] = struct{}{}
					label, _ := row["label"].(string)
					out = append(out, GraphEntity{Label: label, ID: bid, Props: row})
					next = append(next, bid)
					if len(out) >= limit {
						return out, nil
					}
				}
			}
		}
		frontier = next
	}
	return out, nil
}

// resolveActiveFact follows a fact's supersede chain forward until it reaches
// the currently-active version (supersededBy == ""). Used when a Memory's
// factsRef needs to resolve to the latest belief rather than the version it
// was written against.
func resolveActiveFact(ctx context.Context, store FactStoreAPI, factID string, maxHops int) (*Fact, error) {
	id := factID
	for i := 0; i < maxHops; i++ {
		f, err := store.GetFact(ctx, id)
		if err != nil {
			return nil, err
		}
		if f == nil || f.Active() {
			return f, nil
		}
		id = f.Chain.SupersededBy
	}
	return nil, &CircularSupersedeError{FactID: factID}
}
