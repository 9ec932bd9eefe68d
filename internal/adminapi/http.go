// Package adminapi exposes an operator-facing view of a cluster node's
// registry: a JSON HTTP API, a websocket change feed, and a gRPC health
// and query surface, all gated behind an operator bearer token.
package adminapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ruvnet/swimring/internal/cerrors"
	"github.com/ruvnet/swimring/internal/cluster"
)

// Server wires the registry to every operator-facing surface.
type Server struct {
	registry *cluster.Registry
	logger   *zap.Logger
	secret   []byte
	validate *validator.Validate
	upgrader *upgrader
	gatherer prometheus.Gatherer
}

// NewServer builds an admin surface over registry. secret signs and
// verifies operator bearer tokens; an empty secret disables auth
// enforcement, which is only appropriate for local development. gatherer
// backs GET /metrics; a nil gatherer falls back to the default prometheus
// registry that NewMetrics registers collectors against.
func NewServer(registry *cluster.Registry, secret []byte, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		registry: registry,
		logger:   logger,
		secret:   secret,
		validate: validator.New(),
		upgrader: newUpgrader(),
		gatherer: gatherer,
	}
}

// metadataUpdateRequest is the body of POST /local/metadata.
type metadataUpdateRequest struct {
	Metadata map[string]string `json:"metadata" validate:"required"`
}

// memberView is the wire shape returned for one member.
type memberView struct {
	Name          string            `json:"name"`
	Status        string            `json:"status"`
	Clock         uint64            `json:"clock"`
	MetadataKnown bool              `json:"metadata_known"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func toMemberView(m cluster.Member) memberView {
	view := memberView{
		Name:          m.Name,
		Status:        m.Status().String(),
		Clock:         m.Clock(),
		MetadataKnown: m.MetadataValue().Known(),
	}
	if view.MetadataKnown {
		view.Metadata = make(map[string]string, len(m.MetadataValue()))
		for k, v := range m.MetadataValue() {
			view.Metadata[k] = string(v)
		}
	}
	return view
}

// Router builds the gin engine serving the HTTP and websocket surfaces.
func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	authorized := r.Group("/")
	if len(s.secret) > 0 {
		authorized.Use(requireAuth(s.secret))
	}
	authorized.GET("/members", s.handleListMembers)
	authorized.GET("/members/:name", s.handleGetMember)
	authorized.POST("/local/metadata", s.handleUpdateMetadata)
	authorized.GET("/ws", s.handleWebsocket)

	return r
}

func (s *Server) handleHealthz(c *gin.Context) {
	local := s.registry.Local()
	if local.Status() != cluster.ONLINE {
		err := cerrors.NewAPIError(cerrors.ServiceUnavailable, "local member is "+local.Status().String())
		c.JSON(err.HTTPStatus(), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": local.Status().String()})
}

func (s *Server) handleListMembers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"members": s.listMemberViews()})
}

// listMemberViews returns every member known to this node, including the
// local one. Registry.GetStatus(ALL) deliberately excludes the local
// member (it isn't a target of status-indexed peer selection), but the
// admin surface is meant to answer "who is in this cluster, including
// me," so the two are merged here rather than in the registry.
func (s *Server) listMemberViews() []memberView {
	peers := s.registry.GetStatus(cluster.ALL)
	views := make([]memberView, 0, len(peers)+1)
	views = append(views, toMemberView(s.registry.Local()))
	views = append(views, memberViews(peers)...)
	return views
}

func (s *Server) handleGetMember(c *gin.Context) {
	name := c.Param("name")
	m := s.registry.Get(name, nil)
	c.JSON(http.StatusOK, toMemberView(m))
}

func (s *Server) handleUpdateMetadata(c *gin.Context) {
	var req metadataUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiErr := cerrors.NewValidationError(err.Error())
		c.JSON(apiErr.HTTPStatus(), apiErr)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		apiErr := cerrors.NewValidationError(err.Error())
		c.JSON(apiErr.HTTPStatus(), apiErr)
		return
	}

	metadata := make(cluster.Metadata, len(req.Metadata))
	for k, v := range req.Metadata {
		metadata[k] = []byte(v)
	}
	s.registry.Update(s.registry.LocalName(), nil, metadata)
	c.JSON(http.StatusOK, toMemberView(s.registry.Local()))
}
