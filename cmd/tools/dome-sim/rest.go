package main

import (
	"encoding/json"
	"log"
	"net/http"
)

func newRestHandler(sim *domeSim) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /dome", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sim.snapshot())
	})
	mux.HandleFunc("PATCH /dome", func(w http.ResponseWriter, r *http.Request) {
		var p simPatch
		if err := readJSON(r, &p); err != nil {
			fail(w, http.StatusBadRequest, "bad json")
			return
		}
		sim.apply(p)
		writeJSON(w, http.StatusOK, sim.snapshot())
	})
	return mux
}

func startRestAPI(addr string, sim *domeSim) {
	log.Printf("Dome simulator REST API listening on %s", addr)
	if err := http.ListenAndServe(addr, newRestHandler(sim)); err != nil {
		log.Printf("REST API: %v", err)
	}
}

/* ------------------------ helpers: json & errors ------------------------ */

func readJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
