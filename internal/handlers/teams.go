package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"teamlink/internal/roster"
	"teamlink/internal/transport"
)

// RosterSyncer refreshes the local roster cache for one team.
type RosterSyncer interface {
	Sync(ctx context.Context, teamID string) (roster.TeamInfo, error)
}

// TeamHandler serves roster endpoints.
type TeamHandler struct {
	roster RosterSyncer
}

// NewTeamHandler builds a TeamHandler.
func NewTeamHandler(roster RosterSyncer) *TeamHandler {
	return &TeamHandler{roster: roster}
}

// SyncTeam pulls the team's roster from the backend and caches it locally.
func (h *TeamHandler) SyncTeam(c *gin.Context) {
	teamID := c.Param("team_id")

	info, err := h.roster.Sync(c.Request.Context(), teamID)
	if err != nil {
		var businessErr *transport.BusinessError
		if errors.As(err, &businessErr) {
			c.JSON(http.StatusBadGateway, gin.H{"error": businessErr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "roster sync failed"})
		return
	}
	c.JSON(http.StatusOK, info)
}
