// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/emfoursolutions/trakbridge/pkg/status/health"
	"github.com/emfoursolutions/trakbridge/pkg/streams"
	"github.com/emfoursolutions/trakbridge/pkg/tak/client"
	"github.com/emfoursolutions/trakbridge/pkg/telemetry"
	"github.com/emfoursolutions/trakbridge/pkg/util/log"
	"github.com/emfoursolutions/trakbridge/pkg/version"
)

func (s *Server) setupHandlers(r *mux.Router) {
	r.HandleFunc("/status", s.getStatus).Methods("GET")
	r.HandleFunc("/streams", s.getStreams).Methods("GET")
	r.HandleFunc("/streams/{id}", s.getStream).Methods("GET")
	r.HandleFunc("/streams/{id}/trigger", s.triggerStream).Methods("POST")
	r.HandleFunc("/servers", s.getServers).Methods("GET")
	r.HandleFunc("/servers/{id}", s.getServer).Methods("GET")
	r.HandleFunc("/health", s.getHealth).Methods("GET")
	r.HandleFunc("/version", s.getVersion).Methods("GET")
	r.Handle("/telemetry", telemetry.Handler()).Methods("GET")
	// expvar at /debug/vars, pprof at /debug/pprof when its import is linked in
	r.PathPrefix("/debug/").Handler(http.DefaultServeMux)
}

// statusResponse is the aggregate document served on /status.
type statusResponse struct {
	Version string                `json:"version"`
	Commit  string                `json:"commit,omitempty"`
	Health  health.Status         `json:"health"`
	Streams []streams.Status      `json:"streams"`
	Servers map[int]client.Health `json:"servers"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, statusResponse{
		Version: version.BridgeVersion,
		Commit:  version.Commit,
		Health:  health.GetStatus(),
		Streams: s.manager.StatusAll(),
		Servers: s.service.Statuses(),
	})
}

func (s *Server) getStreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.manager.StatusAll())
}

func (s *Server) getStream(w http.ResponseWriter, r *http.Request) {
	id, err := streamID(r)
	if err != nil {
		setJSONError(w, err, http.StatusBadRequest)
		return
	}
	status, err := s.manager.Status(id)
	if err != nil {
		setJSONError(w, err, http.StatusNotFound)
		return
	}
	writeJSON(w, status)
}

func (s *Server) triggerStream(w http.ResponseWriter, r *http.Request) {
	id, err := streamID(r)
	if err != nil {
		setJSONError(w, err, http.StatusBadRequest)
		return
	}
	if err := s.manager.TriggerNow(id); err != nil {
		setJSONError(w, err, http.StatusNotFound)
		return
	}
	log.Infof("Manual poll triggered for stream %d", id)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"triggered":` + strconv.Itoa(id) + `}`)) //nolint:errcheck
}

func (s *Server) getServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.Statuses())
}

func (s *Server) getServer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		setJSONError(w, err, http.StatusBadRequest)
		return
	}
	statuses := s.service.Statuses()
	status, found := statuses[id]
	if !found {
		setJSONError(w, log.Errorf("server %d is not registered", id), http.StatusNotFound)
		return
	}
	writeJSON(w, status)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	h := health.GetStatus()
	j, err := json.Marshal(h)
	if err != nil {
		setJSONError(w, log.Errorf("Unable to marshal health status: %s", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if !h.Ok() {
		w.WriteHeader(http.StatusInternalServerError)
	}
	w.Write(j) //nolint:errcheck
}

func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"version": version.BridgeVersion,
		"commit":  version.Commit,
	})
}

func streamID(r *http.Request) (int, error) {
	return strconv.Atoi(mux.Vars(r)["id"])
}

func writeJSON(w http.ResponseWriter, body interface{}) {
	j, err := json.Marshal(body)
	if err != nil {
		setJSONError(w, log.Errorf("Unable to marshal response: %s", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(j) //nolint:errcheck
}

func setJSONError(w http.ResponseWriter, err error, errorCode int) {
	w.Header().Set("Content-Type", "application/json")
	body, _ := json.Marshal(map[string]string{"error": err.Error()})
	http.Error(w, string(body), errorCode)
}
