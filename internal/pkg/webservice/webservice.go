// Package webservice serves the last committed tick over HTTP and streams
// new ticks to websocket clients.
package webservice

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ohowland/winterriver/internal/pkg/engine"
)

// Config is the HTTP listener.
type Config struct {
	Addr    string `json:"Addr"`
	Enabled bool   `json:"Enabled"`
}

// Source supplies the most recent committed tick.
type Source interface {
	Last() (engine.TickResult, bool)
}

// Service routes the read API.
type Service struct {
	source Source
	hub    *Hub
	router *mux.Router
}

// TickSummary is the /tick response.
type TickSummary struct {
	ID       string        `json:"ID"`
	Started  time.Time     `json:"Started"`
	Duration time.Duration `json:"Duration"`
	Nodes    int           `json:"Nodes"`
	Faults   int           `json:"Faults"`
}

// NodeCommand is the /nodes/{id}/command response.
type NodeCommand struct {
	Node    string `json:"node"`
	Command string `json:"command"`
}

type errorBody struct {
	Error string `json:"error"`
}

// New returns a Service over source streaming through hub.
func New(source Source, hub *Hub) *Service {
	s := &Service{source: source, hub: hub}
	s.router = s.makeRouter()
	return s
}

func (s *Service) makeRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", BaseHandler).Methods("GET")
	r.HandleFunc("/nodes", s.NodesHandler).Methods("GET")
	r.HandleFunc("/nodes/{id}", s.NodeHandler).Methods("GET")
	r.HandleFunc("/nodes/{id}/command", s.CommandHandler).Methods("GET")
	r.HandleFunc("/tick", s.TickHandler).Methods("GET")
	if s.hub != nil {
		r.HandleFunc("/ws", s.hub.ServeWS)
	}
	return r
}

// ServeHTTP dispatches to the router.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves addr until ctx is cancelled.
func (s *Service) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s}
	errc := make(chan error, 1)
	go func() {
		log.Println("[Webservice] Starting Server on", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	log.Println("[Webservice] Shutdown")
	return srv.Shutdown(shutdown)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	body, err := json.Marshal(v)
	if err != nil {
		log.Println("[Webservice] malformed JSON:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		log.Println("[Webservice] write:", err)
	}
}

// BaseHandler answers liveness probes.
func BaseHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NodesHandler lists every node of the last tick.
func (s *Service) NodesHandler(w http.ResponseWriter, r *http.Request) {
	result, ok := s.source.Last()
	if !ok {
		writeJSON(w, http.StatusOK, []engine.NodeReport{})
		return
	}
	writeJSON(w, http.StatusOK, result.Nodes)
}

// NodeHandler returns one node of the last tick.
func (s *Service) NodeHandler(w http.ResponseWriter, r *http.Request) {
	report, ok := s.node(mux.Vars(r)["id"])
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{"unknown node"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CommandHandler returns the control line last sent to a node.
func (s *Service) CommandHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	report, ok := s.node(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{"unknown node"})
		return
	}
	writeJSON(w, http.StatusOK, NodeCommand{Node: id, Command: report.Command})
}

// TickHandler summarizes the last tick.
func (s *Service) TickHandler(w http.ResponseWriter, r *http.Request) {
	result, ok := s.source.Last()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{"no tick committed yet"})
		return
	}
	faults := 0
	for _, n := range result.Nodes {
		if n.Faulted() {
			faults++
		}
	}
	writeJSON(w, http.StatusOK, TickSummary{
		ID:       result.ID.String(),
		Started:  result.Started,
		Duration: result.Duration,
		Nodes:    len(result.Nodes),
		Faults:   faults,
	})
}

func (s *Service) node(id string) (engine.NodeReport, bool) {
	result, ok := s.source.Last()
	if !ok {
		return engine.NodeReport{}, false
	}
	return result.Node(id)
}
