// Package api exposes an Engine over HTTP, adapted from goldb's api
// package: a header-addressed key, a request body carrying the value,
// and a prefix header switching GET into a scan.
package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/hasssanezzz/goldb-lsm/internal/engine"
	"github.com/hasssanezzz/goldb-lsm/internal/logging"
	"github.com/hasssanezzz/goldb-lsm/internal/shared"
)

// API wraps an Engine with HTTP handlers.
type API struct {
	DB  *engine.Engine
	log logging.Logger
}

// New wraps db for HTTP serving.
func New(db *engine.Engine, log logging.Logger) *API {
	return &API{DB: db, log: logging.OrDefault(log)}
}

func (a *API) getHandler(w http.ResponseWriter, r *http.Request) {
	if prefix := r.Header.Get("Prefix"); prefix != "" || r.Header.Get("Scan") == "1" {
		keys, err := a.DB.Scan(prefix)
		if err != nil {
			a.log.Errorf("api: scan(%q): %v", prefix, err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(strings.Join(keys, "\n")))
		return
	}

	key := r.Header.Get("Key")
	value, err := a.DB.Get(key)
	if err != nil {
		if _, ok := err.(*shared.ErrKeyNotFound); ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		a.log.Errorf("api: get(%q): %v", key, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(value))
}

func (a *API) putHandler(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Key")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unable to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if err := a.DB.Put(key, string(body)); err != nil {
		if _, ok := err.(*shared.ErrKeyTooLong); ok {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		a.log.Errorf("api: put(%q): %v", key, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (a *API) deleteHandler(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Key")
	if err := a.DB.Delete(key); err != nil {
		a.log.Errorf("api: delete(%q): %v", key, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SetupRoutes registers the engine's handlers on mux.
func (a *API) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /", a.getHandler)
	mux.HandleFunc("POST /", a.putHandler)
	mux.HandleFunc("PUT /", a.putHandler)
	mux.HandleFunc("DELETE /", a.deleteHandler)
}
