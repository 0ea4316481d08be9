// Package httpapi is C13, a read-only REST surface in front of the
// control plane (internal/control) for scripting and dashboards —
// grounded on guiperry-HASHER/cmd/driver/hasher-host's use of gin as the
// outer transport for an otherwise RPC-backed device.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jgressmann/supercan-go/internal/control"
)

// New builds a gin.Engine exposing GET /channels, GET /channels/:id,
// GET /channels/:id/clients, GET /channels/:id/lease and
// GET /channels/:id/stats over srv. It calls srv's Go methods directly
// rather than dialing its own gRPC socket, since both sit in the same
// process in cmd/scand.
func New(srv *control.Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/channels", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"channels": srv.Registry.IDs()})
	})

	r.GET("/channels/:id", func(c *gin.Context) {
		resp, err := srv.GetChannelInfo(c.Request.Context(), &control.ChannelInfoRequest{ChannelID: c.Param("id")})
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	r.GET("/channels/:id/clients", func(c *gin.Context) {
		resp, err := srv.ListClients(c.Request.Context(), &control.ListClientsRequest{ChannelID: c.Param("id")})
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	r.GET("/channels/:id/lease", func(c *gin.Context) {
		resp, err := srv.GetLeaseStatus(c.Request.Context(), &control.LeaseStatusRequest{ChannelID: c.Param("id")})
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	r.GET("/channels/:id/stats", func(c *gin.Context) {
		resp, err := srv.GetStats(c.Request.Context(), &control.GetStatsRequest{ChannelID: c.Param("id")})
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	return r
}
