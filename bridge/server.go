// Package bridge exposes the local HTTP surface that relay transports use
// to hand inbound protocol envelopes to the engine. The transport owns relay
// discovery and wire encryption; by the time an envelope reaches the bridge
// it is a signed cleartext envelope whose signature the bridge verifies
// before dispatching.
package bridge

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/diazemiliano/mostro/messenger"
	"github.com/diazemiliano/mostro/settlement"
)

// Server is the local envelope-injection endpoint.
type Server struct {
	handler *settlement.OrderProtocolHandler
	log     *zap.Logger
	engine  *gin.Engine
}

// NewServer builds the bridge around a protocol handler.
func NewServer(handler *settlement.OrderProtocolHandler, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		handler: handler,
		log:     log,
		engine:  gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.engine.POST("/envelope", s.postEnvelope)
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return s
}

// Run serves the bridge on addr. Blocking.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

// ServeHTTP lets the bridge be mounted on an existing listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// postEnvelope verifies a sealed envelope and dispatches its message. The
// sender identity handed to the engine is the one that signed the envelope,
// never anything the transport claims.
func (s *Server) postEnvelope(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	msg, sender, err := messenger.Open(raw)
	if err != nil {
		s.log.Warn("rejected envelope", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid envelope"})
		return
	}

	if err := s.handler.HandleMessage(c.Request.Context(), msg, sender); err != nil {
		s.log.Error("message handling failed",
			zap.String("action", string(msg.Action)),
			zap.String("order_id", msg.OrderID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "handling failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}
