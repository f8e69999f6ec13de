package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"intervu.me/config"
	"intervu.me/model"
	"intervu.me/pkg/websocket"
	"intervu.me/signal"
	"intervu.me/storage"
)

type API struct {
	echo        *echo.Echo
	config      *config.Config
	stats       storage.Stats
	rooms       *storage.Store
	coordinator *signal.Coordinator
}

func New(c *config.Config, st storage.Stats, rooms *storage.Store, coord *signal.Coordinator) *API {
	api := &API{
		echo:        echo.New(),
		config:      c,
		stats:       st,
		rooms:       rooms,
		coordinator: coord,
	}

	api.echo.HideBanner = true
	api.echo.Use(middleware.CORS())

	api.echo.GET("/", api.ping)
	api.echo.GET("/stats", api.getStats)
	api.echo.GET("/debug/rooms", api.debugRooms)
	api.echo.Any("/ws", api.websocket)

	return api
}

func (api *API) Start() error {
	if err := api.coordinator.Start(); err != nil {
		return err
	}
	api.coordinator.RunReaper(api.config.ReapInterval, api.config.RoomTTL)
	return api.echo.Start(api.config.HttpHost + ":" + strconv.Itoa(api.config.HttpPort))
}

func (api *API) Close(ctx context.Context) error {
	api.coordinator.Stop()
	return api.echo.Shutdown(ctx)
}

// Ping handler
func (api *API) ping(c echo.Context) error {
	_, err := api.stats.IncrVisits()
	if err != nil {
		log.Error(err)
	}
	return c.String(http.StatusOK, "OK")
}

// Returns today's usage counters
func (api *API) getStats(c echo.Context) error {
	now := time.Now()
	visits, err := api.stats.VisitsByDate(now)
	if err != nil {
		log.Info(err)
	}
	sessions, err := api.stats.SessionsByDate(now)
	if err != nil {
		log.Info(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"visits":   visits,
		"sessions": sessions,
	})
}

type roomInfo struct {
	ID                 string    `json:"id"`
	Host               string    `json:"host,omitempty"`
	Guest              string    `json:"guest,omitempty"`
	NegotiationStarted bool      `json:"negotiation_started"`
	Editors            int       `json:"editors"`
	LastActivity       time.Time `json:"last_activity"`
}

// Point-in-time view of the room table
func (api *API) debugRooms(c echo.Context) error {
	rooms := make([]roomInfo, 0)
	for _, r := range api.rooms.Snapshot() {
		r.Lock()
		if r.Deleted() {
			r.Unlock()
			continue
		}
		info := roomInfo{
			ID:                 r.ID,
			NegotiationStarted: r.NegotiationStarted,
			Editors:            len(r.Editors),
			LastActivity:       r.LastActivity,
		}
		if r.Host != nil {
			info.Host = r.Host.GetID()
		}
		if r.Guest != nil {
			info.Guest = r.Guest.GetID()
		}
		r.Unlock()
		rooms = append(rooms, info)
	}
	return c.JSON(http.StatusOK, rooms)
}

// Endpoint to establish websocket connection
func (api *API) websocket(c echo.Context) error {
	conn, _, _, err := ws.UpgradeHTTP(c.Request(), c.Response())
	if err != nil {
		log.Warn(err)
		return c.NoContent(http.StatusBadRequest)
	}

	if _, err = api.stats.IncrSessions(); err != nil {
		log.Error(err)
	}

	client := &model.Client{
		ID:   uuid.New().String(),
		Conn: conn,
	}
	api.serveClient(client)
	return nil
}

// serveClient pumps inbound events into the coordinator. Events are handled
// to completion one at a time, so per-sender order is preserved.
func (api *API) serveClient(client *model.Client) {
	done := make(chan bool)

	keepAlive := func() {
		ticker := time.NewTicker(time.Second * 30)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := client.Ping(); err != nil {
					log.Warn(err)
				}
			}
		}
	}

	onDisconnect := func() {
		done <- true
		_ = client.Conn.Close()
		api.coordinator.Disconnect(client)
		log.Infof("client %s disconnected (room %q, role %q)", client.ID, client.RoomID, client.Role)
	}

	sendError := func(msg string) {
		err := client.Send(websocket.NewEvent(websocket.EvtError, websocket.ErrorMessage{Message: msg}))
		if err != nil {
			log.Warn(err)
		}
	}

	go keepAlive()
	defer onDisconnect()

	log.Infof("client %s connected from %s", client.ID, remoteAddr(client.Conn))

	for {
		b, err := wsutil.ReadClientText(client.Conn)
		if err != nil {
			break
		}

		var e websocket.Event
		if err = json.Unmarshal(b, &e); err != nil {
			sendError("malformed event")
			continue
		}

		if err = e.Validate(); err != nil {
			log.Warn(err)
			sendError(err.Error())
			continue
		}

		api.coordinator.Handle(client, e)
	}
}

func remoteAddr(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return "unknown"
	}
	return conn.RemoteAddr().String()
}
