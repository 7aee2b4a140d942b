package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/weichain/gsol-minter/internal/state"
	"github.com/weichain/gsol-minter/internal/storage"
)

// State dumps the full in-memory state. Controller only.
func State(mgr *state.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Marshal under the state lock; the maps are live.
		var (
			encoded []byte
			err     error
		)
		mgr.MustRead(func(s *state.State) {
			encoded, err = json.Marshal(s)
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(encoded)
	}
}

// Storage renders the recorded event log. Controller only.
func Storage(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := store.AllEvents()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		var b strings.Builder
		for _, ev := range events {
			fmt.Fprintf(&b, "Event(timestamp: %d, payload: %+v)\n", ev.Timestamp, ev.Payload)
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(b.String()))
	}
}

// ActiveTasks lists the currently held task locks. Controller only.
func ActiveTasks(mgr *state.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var tasks []string
		mgr.MustRead(func(s *state.State) { tasks = s.ActiveTasks() })
		writeJSON(w, http.StatusOK, map[string][]string{"active_tasks": tasks})
	}
}
