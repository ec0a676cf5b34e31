package storage

import (
	"database/sql"
	"strings"

	"github.com/zheng/argus/internal/graph"
)

const (
	nodeColumns  = `id, kind, node_key, name, contract, file, line, signature, mutability, visibility, entry, doc`
	nodeColumnsN = `n.id, n.kind, n.node_key, n.name, n.contract, n.file, n.line, n.signature, n.mutability, n.visibility, n.entry, n.doc`
	edgeColumns  = `id, from_id, to_id, kind, call_type, call_site_file, call_site_line`

	// both plain calls and modifier invocations transfer control
	callEdge = `e.kind IN ('calls', 'modifier')`
)

// InsertNode stores a node and returns its ID. A node whose key is already
// stored is updated in place and keeps its ID.
func (db *DB) InsertNode(node *graph.Node) (int64, error) {
	var id int64
	err := db.conn.QueryRow(
		`INSERT INTO nodes (kind, node_key, name, contract, file, line, signature, mutability, visibility, entry, doc)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(node_key) DO UPDATE SET
			kind = excluded.kind, name = excluded.name, contract = excluded.contract,
			file = excluded.file, line = excluded.line, signature = excluded.signature,
			mutability = excluded.mutability, visibility = excluded.visibility,
			entry = excluded.entry, doc = excluded.doc
		 RETURNING id`,
		node.Kind, node.Key, node.Name, node.Contract, node.File, node.Line,
		node.Signature, node.Mutability, node.Visibility, node.Entry, node.Doc,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	node.ID = id
	return id, nil
}

// InsertEdge inserts an edge into the database. Repeated edges are ignored.
func (db *DB) InsertEdge(edge *graph.Edge) error {
	_, err := db.conn.Exec(
		`INSERT OR IGNORE INTO edges (from_id, to_id, kind, call_type, call_site_file, call_site_line)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		edge.FromID, edge.ToID, edge.Kind, edge.CallType, edge.CallSiteFile, edge.CallSiteLine,
	)
	return err
}

// GetNodeByKey returns the node stored under file:Contract.signature
func (db *DB) GetNodeByKey(key string) (*graph.Node, error) {
	row := db.conn.QueryRow(`SELECT `+nodeColumns+` FROM nodes WHERE node_key = ?`, key)
	return scanNode(row)
}

// GetNodeByName returns the first node with the qualified name Contract.function
func (db *DB) GetNodeByName(name string) (*graph.Node, error) {
	row := db.conn.QueryRow(`SELECT `+nodeColumns+` FROM nodes WHERE name = ? ORDER BY id LIMIT 1`, name)
	return scanNode(row)
}

// GetNodeByID returns a node by its ID
func (db *DB) GetNodeByID(id int64) (*graph.Node, error) {
	row := db.conn.QueryRow(`SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	return scanNode(row)
}

// FindNodesByPattern returns nodes matching a name pattern (using LIKE)
// Results are sorted by match quality: exact short name match > ends with pattern > contains pattern
func (db *DB) FindNodesByPattern(pattern string) ([]*graph.Node, error) {
	rows, err := db.conn.Query(
		`SELECT `+nodeColumns+` FROM nodes
		 WHERE name LIKE ? OR signature LIKE ?
		 ORDER BY
			CASE
				-- Exact match on short name: Contract.pattern
				WHEN name LIKE '%.' || ? OR name = ? THEN 0
				-- Name ends with the pattern
				WHEN name LIKE '%' || ? THEN 1
				-- Contains pattern
				ELSE 2
			END,
			length(name) ASC, id ASC`,
		"%"+pattern+"%", "%"+pattern+"%", pattern, pattern, pattern,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// GetDirectCallers returns functions that directly call the given function or
// invoke the given modifier
func (db *DB) GetDirectCallers(nodeID int64) ([]*graph.Node, error) {
	rows, err := db.conn.Query(
		`SELECT DISTINCT `+nodeColumnsN+`
		 FROM nodes n
		 JOIN edges e ON e.from_id = n.id
		 WHERE e.to_id = ? AND `+callEdge+`
		 ORDER BY n.id`,
		nodeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// GetDirectCallees returns functions and modifiers the given node directly reaches
func (db *DB) GetDirectCallees(nodeID int64) ([]*graph.Node, error) {
	rows, err := db.conn.Query(
		`SELECT DISTINCT `+nodeColumnsN+`
		 FROM nodes n
		 JOIN edges e ON e.to_id = n.id
		 WHERE e.from_id = ? AND `+callEdge+`
		 ORDER BY n.id`,
		nodeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// GetUpstreamCallers returns all upstream callers recursively up to maxDepth
// If maxDepth is 0, it returns all callers with no depth limit
func (db *DB) GetUpstreamCallers(nodeID int64, maxDepth int) ([]*graph.Node, error) {
	return db.walk(nodeID, maxDepth, "e.from_id", "e.to_id")
}

// GetDownstreamCallees returns all downstream callees recursively up to maxDepth
// If maxDepth is 0, it returns all callees with no depth limit
func (db *DB) GetDownstreamCallees(nodeID int64, maxDepth int) ([]*graph.Node, error) {
	return db.walk(nodeID, maxDepth, "e.to_id", "e.from_id")
}

// walk follows call edges from nodeID. next is the edge column naming the
// reached node, prev the column that must match the current frontier.
func (db *DB) walk(nodeID int64, maxDepth int, next, prev string) ([]*graph.Node, error) {
	depthLimit := ""
	args := []interface{}{nodeID}
	if maxDepth > 0 {
		depthLimit = ` AND w.depth < ?`
		args = append(args, maxDepth)
	}

	// depth keeps growing around cycles, 64 bounds it
	query := `
		WITH RECURSIVE reached(id, depth) AS (
			SELECT ` + next + `, 1 FROM edges e
			WHERE ` + prev + ` = ? AND ` + callEdge + `
			UNION
			SELECT ` + next + `, w.depth + 1
			FROM edges e
			JOIN reached w ON ` + prev + ` = w.id
			WHERE ` + callEdge + depthLimit + ` AND w.depth < 64
		)
		SELECT ` + nodeColumnsN + `
		FROM nodes n
		WHERE n.id IN (SELECT id FROM reached)
		ORDER BY n.id`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// GetEntryPointsReaching returns the entry points (public and external
// functions of deployable contracts) from which nodeID is reachable,
// including nodeID itself when it is one
func (db *DB) GetEntryPointsReaching(nodeID int64) ([]*graph.Node, error) {
	upstream, err := db.GetUpstreamCallers(nodeID, 0)
	if err != nil {
		return nil, err
	}
	self, err := db.GetNodeByID(nodeID)
	if err != nil {
		return nil, err
	}
	var entries []*graph.Node
	if self.Entry {
		entries = append(entries, self)
	}
	for _, n := range upstream {
		if n.Entry && n.ID != nodeID {
			entries = append(entries, n)
		}
	}
	return entries, nil
}

// GetCallEdgesForNode returns all call edges where the node is the caller
func (db *DB) GetCallEdgesForNode(nodeID int64) ([]*graph.Edge, error) {
	rows, err := db.conn.Query(
		`SELECT `+edgeColumns+` FROM edges e WHERE e.from_id = ? AND `+callEdge+` ORDER BY e.id`,
		nodeID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdges(rows)
}

// GetAllFunctions returns all function nodes
func (db *DB) GetAllFunctions() ([]*graph.Node, error) {
	rows, err := db.conn.Query(
		`SELECT `+nodeColumns+` FROM nodes WHERE kind = ? ORDER BY file, line`,
		graph.NodeKindFunction,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// GetAllNodes returns all functions and modifiers
func (db *DB) GetAllNodes() ([]*graph.Node, error) {
	rows, err := db.conn.Query(`SELECT ` + nodeColumns + ` FROM nodes ORDER BY file, line`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// GetAllEdges returns all edges in the database
func (db *DB) GetAllEdges() ([]*graph.Edge, error) {
	rows, err := db.conn.Query(`SELECT ` + edgeColumns + ` FROM edges ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdges(rows)
}

// ContractSummary describes one indexed contract
type ContractSummary struct {
	Name      string `json:"name"`
	File      string `json:"file"`
	Functions int    `json:"functions"`
	Modifiers int    `json:"modifiers"`
	Entries   int    `json:"entries"`
}

// GetContracts lists indexed contracts with their declaration counts
func (db *DB) GetContracts() ([]*ContractSummary, error) {
	rows, err := db.conn.Query(`
		SELECT contract, MIN(file),
		       SUM(CASE WHEN kind = 'function' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN kind = 'modifier' THEN 1 ELSE 0 END),
		       SUM(entry)
		FROM nodes
		WHERE contract != ''
		GROUP BY contract
		ORDER BY contract`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ContractSummary
	for rows.Next() {
		var c ContractSummary
		if err := rows.Scan(&c.Name, &c.File, &c.Functions, &c.Modifiers, &c.Entries); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// DeleteNodesByFile deletes all nodes declared in the specified files
// Also deletes all edges referencing those nodes
// Returns the number of deleted nodes
func (db *DB) DeleteNodesByFile(files []string) (int64, error) {
	if len(files) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(files)), ",")
	args := make([]interface{}, len(files))
	for i, f := range files {
		args[i] = f
	}

	// First, delete edges that reference nodes in these files
	edgeQuery := `DELETE FROM edges WHERE from_id IN (SELECT id FROM nodes WHERE file IN (` + placeholders + `)) OR to_id IN (SELECT id FROM nodes WHERE file IN (` + placeholders + `))`
	if _, err := db.conn.Exec(edgeQuery, append(args, args...)...); err != nil {
		return 0, err
	}

	result, err := db.conn.Exec(`DELETE FROM nodes WHERE file IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteOrphanEdges deletes edges that reference non-existent nodes
func (db *DB) DeleteOrphanEdges() (int64, error) {
	result, err := db.conn.Exec(`
		DELETE FROM edges
		WHERE from_id NOT IN (SELECT id FROM nodes)
		   OR to_id NOT IN (SELECT id FROM nodes)
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetNodesByFile returns all nodes declared in the specified files
func (db *DB) GetNodesByFile(files []string) ([]*graph.Node, error) {
	if len(files) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(files)), ",")
	args := make([]interface{}, len(files))
	for i, f := range files {
		args[i] = f
	}
	rows, err := db.conn.Query(`SELECT `+nodeColumns+` FROM nodes WHERE file IN (`+placeholders+`) ORDER BY file, line`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNodes(rows)
}

// GetStats returns database statistics
func (db *DB) GetStats() (nodeCount, edgeCount int64, err error) {
	err = db.conn.QueryRow(`SELECT COUNT(*) FROM nodes`).Scan(&nodeCount)
	if err != nil {
		return
	}
	err = db.conn.QueryRow(`SELECT COUNT(*) FROM edges`).Scan(&edgeCount)
	return
}

// GetDirectCallerCount returns the number of direct callers for a node
func (db *DB) GetDirectCallerCount(nodeID int64) (int, error) {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(DISTINCT e.from_id) FROM edges e WHERE e.to_id = ? AND `+callEdge,
		nodeID,
	).Scan(&count)
	return count, err
}

// CallerCount pairs a node with the number of distinct direct callers
type CallerCount struct {
	Node          *graph.Node
	DirectCallers int
}

// GetMostCalled returns the nodes with the most direct callers, most called first
func (db *DB) GetMostCalled(limit int) ([]*CallerCount, error) {
	rows, err := db.conn.Query(
		`SELECT `+nodeColumnsN+`, COUNT(DISTINCT e.from_id) AS callers
		 FROM nodes n
		 JOIN edges e ON e.to_id = n.id AND `+callEdge+`
		 WHERE e.from_id <> n.id
		 GROUP BY n.id
		 ORDER BY callers DESC, n.name ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CallerCount
	for rows.Next() {
		var (
			n         graph.Node
			signature sql.NullString
			doc       sql.NullString
			count     int
		)
		if err := rows.Scan(&n.ID, &n.Kind, &n.Key, &n.Name, &n.Contract, &n.File, &n.Line,
			&signature, &n.Mutability, &n.Visibility, &n.Entry, &doc, &count); err != nil {
			return nil, err
		}
		n.Signature, n.Doc = signature.String, doc.String
		out = append(out, &CallerCount{Node: &n, DirectCallers: count})
	}
	return out, rows.Err()
}

// Helper functions

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInto(s scanner) (*graph.Node, error) {
	var n graph.Node
	var signature, doc sql.NullString
	err := s.Scan(&n.ID, &n.Kind, &n.Key, &n.Name, &n.Contract, &n.File, &n.Line,
		&signature, &n.Mutability, &n.Visibility, &n.Entry, &doc)
	if err != nil {
		return nil, err
	}
	if signature.Valid {
		n.Signature = signature.String
	}
	if doc.Valid {
		n.Doc = doc.String
	}
	return &n, nil
}

func scanNode(row *sql.Row) (*graph.Node, error) {
	return scanInto(row)
}

func scanNodes(rows *sql.Rows) ([]*graph.Node, error) {
	var nodes []*graph.Node
	for rows.Next() {
		n, err := scanInto(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func scanEdges(rows *sql.Rows) ([]*graph.Edge, error) {
	var edges []*graph.Edge
	for rows.Next() {
		var e graph.Edge
		var callSiteFile sql.NullString
		var callSiteLine sql.NullInt64
		if err := rows.Scan(&e.ID, &e.FromID, &e.ToID, &e.Kind, &e.CallType, &callSiteFile, &callSiteLine); err != nil {
			return nil, err
		}
		if callSiteFile.Valid {
			e.CallSiteFile = callSiteFile.String
		}
		if callSiteLine.Valid {
			e.CallSiteLine = int(callSiteLine.Int64)
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

// CallTreeNode represents a node in the call tree with its children
type CallTreeNode struct {
	Node     *graph.Node
	Children []*CallTreeNode
	// Cycle marks a node already on the path from the root
	Cycle bool
}

// GetUpstreamCallTree builds a tree of upstream callers
func (db *DB) GetUpstreamCallTree(nodeID int64, maxDepth int) ([]*CallTreeNode, error) {
	return db.callTree(nodeID, maxDepth, db.GetDirectCallers, map[int64]bool{nodeID: true})
}

// GetDownstreamCallTree builds a tree of downstream callees
func (db *DB) GetDownstreamCallTree(nodeID int64, maxDepth int) ([]*CallTreeNode, error) {
	return db.callTree(nodeID, maxDepth, db.GetDirectCallees, map[int64]bool{nodeID: true})
}

func (db *DB) callTree(nodeID int64, maxDepth int, next func(int64) ([]*graph.Node, error), path map[int64]bool) ([]*CallTreeNode, error) {
	nodes, err := next(nodeID)
	if err != nil {
		return nil, err
	}

	result := make([]*CallTreeNode, len(nodes))
	for i, n := range nodes {
		result[i] = &CallTreeNode{Node: n}
		if path[n.ID] {
			result[i].Cycle = true
			continue
		}
		if maxDepth == 1 {
			continue
		}
		path[n.ID] = true
		children, err := db.callTree(n.ID, maxDepth-1, next, path)
		delete(path, n.ID)
		if err != nil {
			return nil, err
		}
		result[i].Children = children
	}
	return result, nil
}
