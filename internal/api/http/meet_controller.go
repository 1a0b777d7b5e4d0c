package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/polymeet/polymeet/internal/domain"
	"github.com/polymeet/polymeet/internal/service"
	"github.com/polymeet/polymeet/internal/transport"
	"github.com/polymeet/polymeet/lib/logger/sl"
)

type MeetController struct {
	router   *service.Router
	registry *transport.Registry
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewMeetController(router *service.Router, registry *transport.Registry, log *slog.Logger) *MeetController {
	return &MeetController{
		router:   router,
		registry: registry,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Serve upgrades the request to a websocket, registers the connection, and
// pumps its events through the signaling router until it closes.
func (c *MeetController) Serve(ctx *gin.Context) {
	sock, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.log.Error("upgrade failed", sl.Err(err))
		return
	}

	conn := c.registry.Add(sock)
	c.log.Info("connection opened", slog.String("conn_id", conn.ID))

	// Tell the client its connection id; rosters and relay targets are
	// keyed by it.
	conn.Enqueue(domain.Event{Type: domain.KindConnected, UserID: conn.ID})

	go conn.WritePump()
	conn.ReadPump(c.router.Dispatch, func(connID string) {
		c.router.Disconnect(connID)
		c.registry.Remove(connID)
		c.log.Info("connection closed", slog.String("conn_id", connID))
	})
}

func (c *MeetController) GetRoom(ctx *gin.Context) {
	roomID := ctx.Param("roomID")

	roster, ok := c.router.Roster(roomID)
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	pending, _ := c.router.PendingList(roomID)

	ctx.JSON(http.StatusOK, gin.H{
		"room": gin.H{
			"id":           roomID,
			"participants": roster,
			"pending":      pending,
		},
	})
}

func (c *MeetController) ListParticipants(ctx *gin.Context) {
	roomID := ctx.Param("roomID")

	roster, ok := c.router.Roster(roomID)
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"participants": roster})
}
