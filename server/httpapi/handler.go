// Package httpapi exposes the presence backend over HTTP: identity issue and
// rotation for the caller's own device, and sighting upload returning the
// resolved nearby-user list.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bulpan/YEO.PE-sub001/server/identity"
	"github.com/bulpan/YEO.PE-sub001/server/resolve"
)

// Handler carries the presence API's dependencies.
type Handler struct {
	issuer   *identity.Issuer
	resolver *resolve.Resolver
	log      *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(issuer *identity.Issuer, resolver *resolve.Resolver, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{issuer: issuer, resolver: resolver, log: log}
}

// Register mounts the routes on the gin engine.
func (h *Handler) Register(r *gin.Engine, verify TokenVerifier) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := r.Group("/v1", requireBearer(verify))
	authed.POST("/identity", h.issueIdentity)
	authed.POST("/identity/rotate", h.rotateIdentity)
	authed.POST("/nearby", h.nearby)
}

type identityResponse struct {
	Identifier string    `json:"identifier"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func (h *Handler) issueIdentity(c *gin.Context) {
	id, err := h.issuer.IssueOrRefresh(c.Request.Context(), caller(c))
	if err != nil {
		h.identityError(c, err)
		return
	}
	c.JSON(http.StatusOK, identityResponse{Identifier: id.Code, ExpiresAt: id.ExpiresAt})
}

func (h *Handler) rotateIdentity(c *gin.Context) {
	id, err := h.issuer.Rotate(c.Request.Context(), caller(c))
	if err != nil {
		h.identityError(c, err)
		return
	}
	c.JSON(http.StatusOK, identityResponse{Identifier: id.Code, ExpiresAt: id.ExpiresAt})
}

// identityError maps issuer and resolver errors: a suspended caller gets an
// explicit denial, distinct from "no users nearby".
func (h *Handler) identityError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, identity.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown user"})
	case errors.Is(err, identity.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "discovery not permitted"})
	default:
		h.log.Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

type sightingPayload struct {
	Identifier     string `json:"identifier"`
	SignalStrength int    `json:"signalStrength"`
}

type nearbyRequest struct {
	Identifiers []sightingPayload `json:"identifiers"`
}

type nearbyUserPayload struct {
	UserID          string `json:"userId"`
	DisplayIdentity string `json:"displayIdentity"`
	SignalStrength  int    `json:"approximateSignalStrength"`
}

type nearbyResponse struct {
	Users []nearbyUserPayload `json:"users"`
}

func (h *Handler) nearby(c *gin.Context) {
	var req nearbyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	sightings := make([]resolve.Sighting, 0, len(req.Identifiers))
	for _, s := range req.Identifiers {
		sightings = append(sightings, resolve.Sighting{
			Identifier:     s.Identifier,
			SignalStrength: s.SignalStrength,
		})
	}

	users, err := h.resolver.ResolveNearby(c.Request.Context(), caller(c), sightings)
	if err != nil {
		h.identityError(c, err)
		return
	}

	resp := nearbyResponse{Users: make([]nearbyUserPayload, 0, len(users))}
	for _, u := range users {
		resp.Users = append(resp.Users, nearbyUserPayload{
			UserID:          u.UserID,
			DisplayIdentity: u.DisplayIdentity,
			SignalStrength:  u.SignalStrength,
		})
	}
	c.JSON(http.StatusOK, resp)
}
