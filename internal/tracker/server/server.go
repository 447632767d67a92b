// Package server exposes a docstore.Store over HTTP and WebSocket.
//
// Every /v1 request carries a bearer token that maps to exactly one user id;
// a token may only address its own tenant. Writes carry the device id of the
// writer so that push notifications can be recognized as self-echoes by the
// device that caused them.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/docstore"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/remote"
	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default ":8787"). Use ":0" for an ephemeral port.
	Addr string

	// Tokens maps bearer tokens to user ids.
	Tokens map[string]string

	// Metrics instruments; created when nil.
	Metrics *Metrics

	// Logger for server activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:   ":8787",
		Tokens: map[string]string{},
		Logger: log.Default().WithPrefix("server"),
	}
}

// Server serves the document store.
type Server struct {
	addr     string
	store    *docstore.Store
	tokens   map[string]string
	metrics  *Metrics
	listener net.Listener
	server   *http.Server
	router   chi.Router

	clients   map[*websocket.Conn]string
	clientsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

type ctxKey int

const userKey ctxKey = iota

// NewServer creates a server for store.
func NewServer(store *docstore.Store, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Addr == "" {
		config.Addr = ":8787"
	}
	if config.Logger == nil {
		config.Logger = log.Default().WithPrefix("server")
	}
	if config.Metrics == nil {
		config.Metrics = NewMetrics()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:    config.Addr,
		store:   store,
		tokens:  config.Tokens,
		metrics: config.Metrics,
		clients: make(map[*websocket.Conn]string),
		ctx:     ctx,
		cancel:  cancel,
		logger:  config.Logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/whoami", s.handleWhoAmI)

		r.Route("/tenant/{uid}", func(r chi.Router) {
			r.Use(s.authorizeTenant)
			r.Delete("/", s.handleReset)
			r.Get("/records", s.handleListRecords)
			r.Post("/records:batch", s.handlePutRecords)
			r.Get("/records/{key}", s.handleGetDocument(docstore.CollectionRecords, "key"))
			r.Put("/records/{key}", s.handlePutDocument(docstore.CollectionRecords, "key"))
			r.Get("/meta/{doc}", s.handleGetDocument(docstore.CollectionMeta, "doc"))
			r.Put("/meta/{doc}", s.handlePutDocument(docstore.CollectionMeta, "doc"))
			r.Get("/watch", s.handleWatch)
		})
	})
	return r
}

// Handler returns the HTTP handler, for embedding or httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "err", err)
		}
	}()
	return nil
}

// Stop closes push channels and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping")
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
		s.metrics.Subscribers.Dec()
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Info("stopped")
	return nil
}

// GetAddr returns the listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of open push channels.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.Requests.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, ok := s.tokens[header[len(prefix):]]
		if !ok || userID == "" {
			writeError(w, http.StatusUnauthorized, "unknown token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, userID)))
	})
}

func (s *Server) authorizeTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "uid") != userFrom(r) {
			writeError(w, http.StatusForbidden, "token does not grant access to this tenant")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFrom(r *http.Request) string {
	userID, _ := r.Context().Value(userKey).(string)
	return userID
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, remote.WhoAmI{UserID: userFrom(r)})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.List(r.Context(), userFrom(r), docstore.CollectionRecords)
	if err != nil {
		s.logger.Error("list failed", "user", userFrom(r), "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}

	list := remote.DocumentList{Documents: make(map[string]json.RawMessage, len(docs))}
	for _, doc := range docs {
		list.Documents[doc.Path.ID] = doc.Data
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetDocument(collection, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, param)
		doc, err := s.store.Get(r.Context(), docstore.Path{Tenant: userFrom(r), Collection: collection, ID: id})
		if errors.Is(err, docstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		if err != nil {
			s.logger.Error("get failed", "user", userFrom(r), "id", id, "err", err)
			writeError(w, http.StatusInternalServerError, "failed to read document")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(doc.Data)
	}
}

func (s *Server) handlePutDocument(collection, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, param)
		if err := schema.ValidateKey(id); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		var body json.RawMessage
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20)).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "body must be a JSON document")
			return
		}
		doc, err := newDocument(docstore.Path{Tenant: userFrom(r), Collection: collection, ID: id}, body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := s.store.Put(r.Context(), r.Header.Get(remote.HeaderDeviceID), doc); err != nil {
			s.logger.Error("put failed", "path", doc.Path.String(), "err", err)
			writeError(w, http.StatusInternalServerError, "failed to write document")
			return
		}
		s.metrics.DocumentWrites.WithLabelValues(collection).Inc()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handlePutRecords(w http.ResponseWriter, r *http.Request) {
	var batch remote.RecordBatch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<20)).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "body must be a record batch")
		return
	}

	docs := make([]docstore.Document, 0, len(batch.Records))
	for key, body := range batch.Records {
		if err := schema.ValidateKey(key); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		doc, err := newDocument(docstore.RecordPath(userFrom(r), key), body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		docs = append(docs, doc)
	}

	if err := s.store.Put(r.Context(), r.Header.Get(remote.HeaderDeviceID), docs...); err != nil {
		s.logger.Error("batch put failed", "user", userFrom(r), "records", len(docs), "err", err)
		writeError(w, http.StatusInternalServerError, "failed to write records")
		return
	}
	s.metrics.DocumentWrites.WithLabelValues(docstore.CollectionRecords).Add(float64(len(docs)))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.DeleteTenant(r.Context(), userFrom(r), r.Header.Get(remote.HeaderDeviceID))
	if err != nil {
		s.logger.Error("reset failed", "user", userFrom(r), "err", err)
		writeError(w, http.StatusInternalServerError, "failed to reset tenant")
		return
	}
	s.logger.Info("tenant reset", "user", userFrom(r), "documents", n)
	w.WriteHeader(http.StatusNoContent)
}

// handleWatch upgrades to a WebSocket, sends the full record collection as
// the initial batch, then forwards every committed change batch.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)

	watcher, initial, err := s.store.Snapshot(r.Context(), userID, docstore.CollectionRecords)
	if err != nil {
		s.logger.Error("snapshot failed", "user", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to open change feed")
		return
	}
	defer watcher.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	s.addClient(conn, userID)
	defer s.removeClient(conn)

	ctx := conn.CloseRead(s.ctx)
	if err := s.send(ctx, conn, initial); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-watcher.C:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "change feed closed")
				return
			}
			if err := s.send(ctx, conn, b); err != nil {
				s.logger.Warn("failed to push batch", "user", userID, "err", err)
				return
			}
		}
	}
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, b docstore.Batch) error {
	wb := remote.WireBatch{Origin: b.Origin, Initial: b.Initial, Changes: make([]remote.WireChange, 0, len(b.Changes))}
	for _, c := range b.Changes {
		wb.Changes = append(wb.Changes, remote.WireChange{
			Type:       remote.ChangeType(c.Type),
			Collection: c.Document.Path.Collection,
			ID:         c.Document.Path.ID,
			Data:       c.Document.Data,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, wb); err != nil {
		return err
	}
	s.metrics.PushedBatches.Inc()
	return nil
}

func (s *Server) addClient(conn *websocket.Conn, userID string) {
	s.clientsMu.Lock()
	s.clients[conn] = userID
	count := len(s.clients)
	s.clientsMu.Unlock()

	s.metrics.Subscribers.Inc()
	s.logger.Debug("push channel opened", "user", userID, "total", count)
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	userID, exists := s.clients[conn]
	if exists {
		delete(s.clients, conn)
	}
	count := len(s.clients)
	s.clientsMu.Unlock()

	if exists {
		s.metrics.Subscribers.Dec()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Debug("push channel closed", "user", userID, "total", count)
	}
}

func newDocument(p docstore.Path, body json.RawMessage) (docstore.Document, error) {
	var rec schema.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return docstore.Document{}, fmt.Errorf("document %s must be a JSON object", p.ID)
	}
	return docstore.Document{Path: p, Data: body, LastModified: rec.LastModified}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, remote.ErrorBody{Error: msg})
}
