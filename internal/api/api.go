package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/namvu9/seedbox/internal/download"
	"github.com/namvu9/seedbox/internal/session"
	"github.com/namvu9/seedbox/pkg/errors"
)

// Backend is the session the API exposes
type Backend interface {
	Stats() session.Stat
	Pause(id string) error
	Resume(id string) error
	Subscribe(size int) (<-chan interface{}, func())
}

const (
	writeWait = 10 * time.Second

	// subscriptionSize is the number of events buffered for
	// each websocket client
	subscriptionSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type handler struct {
	b Backend
}

// NewRouter returns the routes of the API. metrics serves
// /metrics and may be nil.
func NewRouter(b Backend, metrics http.Handler) *mux.Router {
	h := handler{b: b}
	r := mux.NewRouter()

	r.HandleFunc("/api/torrents", h.torrents).Methods(http.MethodGet)
	r.HandleFunc("/api/torrents/{id}/pause", h.pause).Methods(http.MethodPost)
	r.HandleFunc("/api/torrents/{id}/resume", h.resume).Methods(http.MethodPost)
	r.HandleFunc("/api/events", h.events).Methods(http.MethodGet)

	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	return r
}

func (h handler) torrents(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, h.b.Stats())
}

func (h handler) pause(rw http.ResponseWriter, r *http.Request) {
	if err := h.b.Pause(mux.Vars(r)["id"]); err != nil {
		writeError(rw, err)
		return
	}

	rw.WriteHeader(http.StatusNoContent)
}

func (h handler) resume(rw http.ResponseWriter, r *http.Request) {
	if err := h.b.Resume(mux.Vars(r)["id"]); err != nil {
		writeError(rw, err)
		return
	}

	rw.WriteHeader(http.StatusNoContent)
}

// events streams progress events to a websocket client until
// either side goes away
func (h handler) events(rw http.ResponseWriter, r *http.Request) {
	var op errors.Op = "(api.handler).events"

	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.Debug().Str("op", op.String()).Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	// Deadlines set by the HTTP server do not apply to the
	// stream
	conn.SetReadDeadline(time.Time{})

	events, unsubscribe := h.b.Subscribe(subscriptionSize)
	defer unsubscribe()

	// Client messages are discarded; a read error means the
	// client is gone
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(NewEvent(ev)); err != nil {
				log.Debug().Str("op", op.String()).Err(err).Msg("client went away")
				return
			}
		}
	}
}

// Event is the JSON form of a progress event
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type fetchFailed struct {
	Torrent string `json:"torrent"`
	Index   int    `json:"index"`
	Peer    string `json:"peer"`
	Err     string `json:"error"`
}

func NewEvent(ev interface{}) Event {
	if v, ok := ev.(download.FetchFailed); ok {
		var msg string
		if v.Err != nil {
			msg = v.Err.Error()
		}

		return Event{
			Type: "download.FetchFailed",
			Data: fetchFailed{Torrent: v.Torrent, Index: v.Index, Peer: v.Peer, Err: msg},
		}
	}

	return Event{Type: fmt.Sprintf("%T", ev), Data: ev}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(rw http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.KindOf(err) {
	case errors.NotFound:
		status = http.StatusNotFound
	case errors.BadArgument:
		status = http.StatusBadRequest
	}

	writeJSON(rw, status, errorResponse{Error: err.Error()})
}

func writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	data, err := json.MarshalIndent(v, "", " ")
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Set("Access-Control-Allow-Origin", "*")
	rw.WriteHeader(status)
	rw.Write(data)
}

// Serve serves the API on addr until ctx is done
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	var op errors.Op = "api.Serve"

	srv := &http.Server{
		Handler:      handler,
		Addr:         addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("op", op.String()).Str("addr", addr).Msg("serving api")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, op, errors.Network)
	}

	return nil
}
