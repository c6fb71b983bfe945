package routes

import (
	"errors"
	"net/http"

	"github.com/casetrail/backend/internal/db"
	"github.com/casetrail/backend/internal/server/middleware"
	"github.com/casetrail/backend/pkg/logger"

	"github.com/labstack/echo/v4"
	"golang.org/x/net/websocket"
)

// CaseEventsHandler upgrades the connection to a websocket and streams
// case-update events for the requested case until the client disconnects.
// Auth runs before the upgrade; websocket clients pass the token as a
// query parameter.
func CaseEventsHandler(c echo.Context) error {
	caseID := c.QueryParam("case_id")
	if caseID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "case_id is required"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	conn := c.(*middleware.AppContext).App.DBConn
	cases := db.NewCaseStore(conn)

	cs, err := cases.GetCase(ctx, caseID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Case not found"})
		}
		logger.Error("Failed to get case", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}
	if cs.UserID != user.UserID && !middleware.IsAdmin(user) {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "You do not own this case"})
	}

	hub := c.(*middleware.AppContext).App.Hub

	websocket.Handler(func(ws *websocket.Conn) {
		defer ws.Close()

		events := hub.Subscribe(cs.ID)
		defer hub.Unsubscribe(cs.ID, events)

		logger.Debug("[WS] Client connected", "case_id", cs.ID, "user_id", user.UserID)

		// Drain incoming frames so we notice the client going away.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				var discard string
				if err := websocket.Message.Receive(ws, &discard); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case data, ok := <-events:
				if !ok {
					return
				}
				if err := websocket.Message.Send(ws, string(data)); err != nil {
					return
				}
			}
		}
	}).ServeHTTP(c.Response(), c.Request())

	return nil
}
