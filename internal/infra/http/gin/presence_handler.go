package ginserver

import (
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"chatline/internal/app/dto"
	"chatline/internal/app/handlers/presence"
	"chatline/internal/app/queries"
)

type PresenceHandler struct {
	Queries queries.Bus
	Logger  *slog.Logger
}

func (h PresenceHandler) Online(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}
	users, err := queries.Ask[presence.OnlineUsersQuery, []dto.OnlineUser](c.Request.Context(), h.Queries, presence.OnlineUsersQuery{})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	if users == nil {
		users = []dto.OnlineUser{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}
