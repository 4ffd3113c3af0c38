package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository persists flow graphs keyed by flow id.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Load returns the graph of flowID. A missing or unreadable document
	// yields an empty graph, never an error.
	Load(ctx context.Context, flowID string) (*Graph, error)

	// Save replaces the graph of flowID.
	Save(ctx context.Context, flowID string, g *Graph) error
}

// SQLiteRepository implements Repository using the flows table.
type SQLiteRepository struct {
	db     *sql.DB
	logger Logger
	now    func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed flow repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, logger: noopLogger{}, now: time.Now}
}

// SetLogger sets the logger used to report unreadable documents.
func (r *SQLiteRepository) SetLogger(l Logger) {
	if l != nil {
		r.logger = l
	}
}

// Load retrieves a flow graph. Nodes and edges are decoded independently,
// so a damaged edge list still yields the nodes.
func (r *SQLiteRepository) Load(ctx context.Context, flowID string) (*Graph, error) {
	if flowID == "" {
		return nil, ErrInvalidFlowID
	}

	var nodesJSON, edgesJSON sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT nodes, edges FROM flows WHERE flow_id = ?`, flowID,
	).Scan(&nodesJSON, &edgesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return emptyGraph(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying flow %s: %w", flowID, err)
	}

	g := emptyGraph()
	if nodesJSON.Valid && nodesJSON.String != "" {
		var nodes []Node
		if err := json.Unmarshal([]byte(nodesJSON.String), &nodes); err != nil {
			r.logger.Warn("ignoring unreadable flow nodes", "flow_id", flowID, "error", err)
		} else if nodes != nil {
			g.Nodes = nodes
		}
	}
	if edgesJSON.Valid && edgesJSON.String != "" {
		var edges []Edge
		if err := json.Unmarshal([]byte(edgesJSON.String), &edges); err != nil {
			r.logger.Warn("ignoring unreadable flow edges", "flow_id", flowID, "error", err)
		} else if edges != nil {
			g.Edges = edges
		}
	}
	return g, nil
}

// Save upserts the graph. Incomplete graphs are accepted; validation
// happens when the flow starts.
func (r *SQLiteRepository) Save(ctx context.Context, flowID string, g *Graph) error {
	if flowID == "" {
		return ErrInvalidFlowID
	}
	if g == nil {
		g = emptyGraph()
	}

	nodes := g.Nodes
	if nodes == nil {
		nodes = []Node{}
	}
	edges := g.Edges
	if edges == nil {
		edges = []Edge{}
	}

	nodesJSON, err := json.Marshal(nodes)
	if err != nil {
		return fmt.Errorf("marshalling nodes: %w", err)
	}
	edgesJSON, err := json.Marshal(edges)
	if err != nil {
		return fmt.Errorf("marshalling edges: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO flows (flow_id, nodes, edges, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(flow_id) DO UPDATE SET
			nodes = excluded.nodes,
			edges = excluded.edges,
			updated_at = excluded.updated_at`,
		flowID, string(nodesJSON), string(edgesJSON), r.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving flow %s: %w", flowID, err)
	}
	return nil
}

func emptyGraph() *Graph {
	return &Graph{Nodes: []Node{}, Edges: []Edge{}}
}
