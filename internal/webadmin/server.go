// Package webadmin serves a minimal read-only HTTP status page over the
// live queue: depth, per-state counts, and the age of the oldest due
// entry.
package webadmin

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/zurustar/smqueued/internal/logging"
	"github.com/zurustar/smqueued/internal/mqueue"
)

// Server is a read-only status page over a mqueue.Queue. It never
// mutates the queue; operational control is via short-code SMS only.
// This is diagnostics, not an operator console.
type Server struct {
	queue  *mqueue.Queue
	logger logging.Logger
	server *http.Server
}

// NewServer creates a status server over queue.
func NewServer(queue *mqueue.Queue, logger logging.Logger) *Server {
	return &Server{queue: queue, logger: logger}
}

// Start begins serving the status page on port.
func (s *Server) Start(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleStatus)
	mux.HandleFunc("/status", s.handleStatus)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting web admin status server", logging.IntField("port", port))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("web admin server error", logging.ErrorField(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the status server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("stopping web admin status server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// handleStatus renders queue depth, a per-state breakdown, and the
// oldest due entry's age.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	counts := make(map[mqueue.State]int)
	var oldest time.Time
	total := 0
	for _, e := range s.queue.SnapshotReverse() {
		counts[e.State]++
		total++
		if oldest.IsZero() || e.NextActionTime.Before(oldest) {
			oldest = e.NextActionTime
		}
	}

	states := make([]mqueue.State, 0, len(counts))
	for st := range counts {
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })

	fmt.Fprintf(w, "<!DOCTYPE html>\n<html>\n<head><title>smqueued status</title></head>\n<body>\n")
	fmt.Fprintf(w, "<h1>smqueued queue status</h1>\n")
	fmt.Fprintf(w, "<p>%d entries queued", total)
	if total > 0 {
		fmt.Fprintf(w, ", oldest due %s", html.EscapeString(humanize.Time(oldest)))
	}
	fmt.Fprintf(w, "</p>\n<table border=\"1\">\n<tr><th>State</th><th>Count</th></tr>\n")
	for _, st := range states {
		fmt.Fprintf(w, "<tr><td>%s</td><td>%d</td></tr>\n", html.EscapeString(st.String()), counts[st])
	}
	fmt.Fprintf(w, "</table>\n</body>\n</html>\n")
}
