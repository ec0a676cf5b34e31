package web

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zheng/argus/internal/argus"
	"github.com/zheng/argus/internal/graph"
	"github.com/zheng/argus/internal/impact"
	"github.com/zheng/argus/internal/render"
	"github.com/zheng/argus/internal/shell"
	"github.com/zheng/argus/internal/storage"
	"github.com/zheng/argus/internal/workspace"
)

//go:embed static/*
var staticFS embed.FS

const (
	// maxImageBytes bounds POST /api/export bodies.
	maxImageBytes = 32 << 20
	// defaultWait is how long GET /api/state blocks for a newer result.
	defaultWait = 25 * time.Second
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// Shell is the part of the presentation shell the live view drives.
type Shell interface {
	Target() string
	SetTarget(target string, buffer []byte)
	Toggles() shell.Toggles
	SetToggles(t shell.Toggles)
	Schedule()
	RequestRebuild(ctx context.Context) error
	ExportImage(data []byte) (string, error)
}

// Server is the live view for call graphs. It is a shell.Surface: every
// applied result is published to waiting /api/state requests.
type Server struct {
	shell  Shell
	db     *storage.DB
	root   string
	port   int
	logger *slog.Logger

	mu      sync.Mutex
	latest  *argus.Result
	changed chan struct{}
}

// NewServer creates a server on port. db may be nil, which disables the
// index endpoints.
func NewServer(db *storage.DB, root string, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{db: db, root: root, port: port, logger: logger, changed: make(chan struct{})}
}

// Attach connects the shell the action endpoints drive. It must be called
// before Run.
func (s *Server) Attach(sh Shell) {
	s.shell = sh
}

// Apply publishes res to every waiting client.
func (s *Server) Apply(res *argus.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = res
	close(s.changed)
	s.changed = make(chan struct{})
}

// snapshot returns the latest result and a channel closed on the next one.
func (s *Server) snapshot() (*argus.Result, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.changed
}

// API response types
type StateData struct {
	Token     uint64          `json:"token"`
	Target    string          `json:"target"`
	HTML      string          `json:"html"`
	Empty     bool            `json:"empty"`
	Primary   string          `json:"primary,omitempty"`
	Contracts []string        `json:"contracts"`
	Errors    []argus.Problem `json:"errors"`
	Toggles   shell.Toggles   `json:"toggles"`
}

type NodeData struct {
	ID         int64  `json:"id"`
	Label      string `json:"label"`
	FullName   string `json:"fullName"`
	Kind       string `json:"kind"`
	Contract   string `json:"contract"`
	File       string `json:"file"`
	Line       int    `json:"line"`
	Signature  string `json:"signature"`
	Visibility string `json:"visibility"`
	Mutability string `json:"mutability"`
	Entry      bool   `json:"entry"`
	Doc        string `json:"doc"`
}

type EdgeData struct {
	From         int64  `json:"from"`
	To           int64  `json:"to"`
	Kind         string `json:"kind"`
	CallType     string `json:"callType"`
	CallSiteLine int    `json:"callSiteLine"` // 调用发生的行号，用于排序执行顺序
}

type GraphData struct {
	Nodes []NodeData `json:"nodes"`
	Edges []EdgeData `json:"edges"`
}

// CallChainNode represents a node in the hierarchical call chain
type CallChainNode struct {
	NodeData
	Children []CallChainNode `json:"children,omitempty"`
}

type CallChainData struct {
	Target  NodeData        `json:"target"`
	Callers []CallChainNode `json:"callers"`
	Callees []CallChainNode `json:"callees"`
}

type StatsData struct {
	NodeCount int64 `json:"nodeCount"`
	EdgeCount int64 `json:"edgeCount"`
}

// Handler returns the HTTP routes.
func (s *Server) Handler() (http.Handler, error) {
	mux := http.NewServeMux()

	// Live view
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/toggles", s.handleToggles)
	mux.HandleFunc("POST /api/rebuild", s.handleRebuild)
	mux.HandleFunc("POST /api/export", s.handleExport)
	mux.HandleFunc("POST /api/target", s.handleTarget)
	mux.HandleFunc("GET /api/files", s.handleFiles)
	mux.HandleFunc("GET /argus.css", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		io.WriteString(w, render.Stylesheet)
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	// Index queries
	if s.db != nil {
		mux.HandleFunc("GET /api/graph", s.handleGraph)
		mux.HandleFunc("GET /api/contracts", s.handleContracts)
		mux.HandleFunc("GET /api/node/{id}", s.handleNode)
		mux.HandleFunc("GET /api/impact/{id}", s.handleImpact)
		mux.HandleFunc("GET /api/chain/{id}", s.handleCallChain)
		mux.HandleFunc("GET /api/search", s.handleSearch)
		mux.HandleFunc("GET /api/stats", s.handleStats)
	}

	staticContent, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to get static files: %w", err)
	}
	mux.Handle("GET /", http.FileServer(http.FS(staticContent)))
	return mux, nil
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web ui listening", slog.String("addr", "http://"+srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// handleState returns the latest result. With ?after=N it blocks until a
// result with a larger token exists, the wait expires (204) or the client
// goes away.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	after, _ := strconv.ParseUint(r.URL.Query().Get("after"), 10, 64)
	wait := defaultWait
	if v, err := time.ParseDuration(r.URL.Query().Get("wait")); err == nil && v >= 0 && v < defaultWait {
		wait = v
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		res, changed := s.snapshot()
		if res != nil && res.Token > after {
			writeJSON(w, s.state(res))
			return
		}
		select {
		case <-changed:
		case <-timer.C:
			w.WriteHeader(http.StatusNoContent)
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) state(res *argus.Result) StateData {
	data := StateData{
		Token:     res.Token,
		Target:    res.Target,
		HTML:      res.HTML,
		Empty:     res.Empty,
		Primary:   res.PrimaryContract,
		Contracts: make([]string, 0, len(res.Contracts)),
		Errors:    res.Errors,
	}
	for _, c := range res.Contracts {
		data.Contracts = append(data.Contracts, c.Name)
	}
	if data.Errors == nil {
		data.Errors = []argus.Problem{}
	}
	if s.shell != nil {
		data.Toggles = s.shell.Toggles()
	}
	return data
}

func (s *Server) handleToggles(w http.ResponseWriter, r *http.Request) {
	if s.shell == nil {
		http.Error(w, "no shell attached", http.StatusServiceUnavailable)
		return
	}
	var t shell.Toggles
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		http.Error(w, "Invalid toggles", http.StatusBadRequest)
		return
	}
	s.shell.SetToggles(t)
	writeJSON(w, s.shell.Toggles())
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if s.shell == nil {
		http.Error(w, "no shell attached", http.StatusServiceUnavailable)
		return
	}
	err := s.shell.RequestRebuild(r.Context())
	switch {
	case errors.Is(err, shell.ErrNoRebuilder):
		http.Error(w, err.Error(), http.StatusNotImplemented)
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.shell == nil {
		http.Error(w, "no shell attached", http.StatusServiceUnavailable)
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImageBytes))
	if err != nil {
		http.Error(w, "image too large", http.StatusRequestEntityTooLarge)
		return
	}
	if !bytes.HasPrefix(data, pngMagic) {
		http.Error(w, "body is not a PNG image", http.StatusBadRequest)
		return
	}
	path, err := s.shell.ExportImage(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"path": path})
}

func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	if s.shell == nil {
		http.Error(w, "no shell attached", http.StatusServiceUnavailable)
		return
	}
	var body struct {
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Target == "" {
		http.Error(w, "Invalid target", http.StatusBadRequest)
		return
	}
	s.shell.SetTarget(body.Target, nil)
	s.shell.Schedule()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := workspace.FindSources(s.root)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if files == nil {
		files = []string{}
	}
	writeJSON(w, files)
}

// handleGraph returns the complete index
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.db.GetAllNodes()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	edges, err := s.db.GetAllEdges()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := GraphData{
		Nodes: nodesToData(nodes),
		Edges: make([]EdgeData, 0, len(edges)),
	}
	for _, edge := range edges {
		data.Edges = append(data.Edges, EdgeData{
			From:         edge.FromID,
			To:           edge.ToID,
			Kind:         string(edge.Kind),
			CallType:     string(edge.CallType),
			CallSiteLine: edge.CallSiteLine,
		})
	}
	writeJSON(w, data)
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	contracts, err := s.db.GetContracts()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if contracts == nil {
		contracts = []*storage.ContractSummary{}
	}
	writeJSON(w, contracts)
}

// nodeParam loads the node named by the {id} path value
func (s *Server) nodeParam(w http.ResponseWriter, r *http.Request) (*graph.Node, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid node ID", http.StatusBadRequest)
		return nil, false
	}
	node, err := s.db.GetNodeByID(id)
	if err != nil || node == nil {
		http.Error(w, "Node not found", http.StatusNotFound)
		return nil, false
	}
	return node, true
}

// handleNode returns a single node with its connections
func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	node, ok := s.nodeParam(w, r)
	if !ok {
		return
	}
	callers, _ := s.db.GetDirectCallers(node.ID)
	callees, _ := s.db.GetDirectCallees(node.ID)

	writeJSON(w, map[string]interface{}{
		"node":    nodeToData(node),
		"callers": nodesToData(callers),
		"callees": nodesToData(callees),
	})
}

// handleImpact returns the impact report for a node
func (s *Server) handleImpact(w http.ResponseWriter, r *http.Request) {
	node, ok := s.nodeParam(w, r)
	if !ok {
		return
	}
	depth := queryInt(r, "depth", 3)

	report, err := impact.NewAnalyzer(s.db).AnalyzeImpact(node.Key, depth, depth)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, report)
}

// handleCallChain returns hierarchical call chain for a node
func (s *Server) handleCallChain(w http.ResponseWriter, r *http.Request) {
	node, ok := s.nodeParam(w, r)
	if !ok {
		return
	}
	depth := queryInt(r, "depth", 2)

	writeJSON(w, CallChainData{
		Target:  nodeToData(node),
		Callers: s.chain(node.ID, depth, s.db.GetDirectCallers, map[int64]bool{node.ID: true}),
		Callees: s.chain(node.ID, depth, s.db.GetDirectCallees, map[int64]bool{node.ID: true}),
	})
}

// chain builds one direction of the call chain, visiting each node once
func (s *Server) chain(nodeID int64, depth int, next func(int64) ([]*graph.Node, error), visited map[int64]bool) []CallChainNode {
	if depth <= 0 {
		return nil
	}
	nodes, err := next(nodeID)
	if err != nil || len(nodes) == 0 {
		return nil
	}

	result := make([]CallChainNode, 0, len(nodes))
	for _, n := range nodes {
		if visited[n.ID] {
			continue // Avoid cycles
		}
		visited[n.ID] = true
		result = append(result, CallChainNode{
			NodeData: nodeToData(n),
			Children: s.chain(n.ID, depth-1, next, visited),
		})
	}
	return result
}

// handleSearch searches for nodes by pattern
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("q")
	if pattern == "" {
		writeJSON(w, []NodeData{})
		return
	}
	nodes, err := s.db.FindNodesByPattern(pattern)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, nodesToData(nodes))
}

// handleStats returns database statistics
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	nodeCount, edgeCount, err := s.db.GetStats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, StatsData{NodeCount: nodeCount, EdgeCount: edgeCount})
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return def
}

func nodeToData(n *graph.Node) NodeData {
	return NodeData{
		ID:         n.ID,
		Label:      n.ShortName(),
		FullName:   n.Name,
		Kind:       string(n.Kind),
		Contract:   n.Contract,
		File:       n.File,
		Line:       n.Line,
		Signature:  n.Signature,
		Visibility: n.Visibility,
		Mutability: n.Mutability,
		Entry:      n.Entry,
		Doc:        strings.TrimSpace(n.Doc),
	}
}

func nodesToData(nodes []*graph.Node) []NodeData {
	result := make([]NodeData, 0, len(nodes))
	for _, n := range nodes {
		result = append(result, nodeToData(n))
	}
	return result
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Debug("failed to write response", slog.Any("error", err))
	}
}
