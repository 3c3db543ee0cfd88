package sockets

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"github.com/guildhall-net/guildhall/pkg/fanout"
	"github.com/guildhall-net/guildhall/pkg/transport"
)

// Server serves the websocket endpoint, the metrics endpoint and the static
// client bundle.
type Server struct {
	registry    *fanout.Registry
	publisher   transport.Publisher
	publicPath  string
	inboundRate int
	logger      *zap.Logger
	upgrader    websocket.Upgrader
	connections prometheus.Gauge
}

// NewServer creates the edge HTTP server. inboundRate caps each connection's
// requests per second onto the queue. The edge terminates behind a reverse
// proxy, so origins are not checked here.
func NewServer(registry *fanout.Registry, publisher transport.Publisher, publicPath string, inboundRate int, reg prometheus.Registerer, logger *zap.Logger) *Server {
	return &Server{
		registry:    registry,
		publisher:   publisher,
		publicPath:  publicPath,
		inboundRate: inboundRate,
		logger:      logger.Named("sockets"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		connections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "socket_connections",
			Help: "Currently connected websocket clients.",
		}),
	}
}

// Handler builds the HTTP mux: /ws upgrades, /metrics exposes prometheus,
// everything else serves the client bundle with an index fallback.
func (s *Server) Handler() http.Handler {
	mux := httprouter.New()
	mux.GET("/ws", s.serveWS)
	mux.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	mux.NotFound = http.HandlerFunc(s.serveStatic)
	return mux
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	conn := newConn(id, ws, s.publisher, ratelimit.New(s.inboundRate), func(id string) {
		s.registry.Remove(id)
		s.connections.Dec()
		s.logger.Info("Connection closed", zap.String("connection_id", id))
	}, s.logger)

	s.registry.Add(conn)
	s.connections.Inc()
	s.logger.Info("Connection opened", zap.String("connection_id", id))
	go conn.run()
}

// serveStatic serves files from the public directory. Paths that do not match
// a file fall back to index.html so client-side routing works.
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) {
	if s.publicPath == "" {
		http.NotFound(w, r)
		return
	}
	name := filepath.Join(s.publicPath, filepath.Clean("/"+strings.TrimPrefix(r.URL.Path, "/")))
	if info, err := os.Stat(name); err == nil && !info.IsDir() {
		http.ServeFile(w, r, name)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.publicPath, "index.html"))
}
