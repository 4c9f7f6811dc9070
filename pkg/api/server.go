// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

/*
Package api implements the status API of the bridge. It is a read-only
surface: every route reports state, the only verb with a side effect is the
manual poll trigger. Mutating streams or servers goes through the snapshot
file and a reload.
*/
package api

import (
	"fmt"
	stdLog "log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/emfoursolutions/trakbridge/pkg/config"
	"github.com/emfoursolutions/trakbridge/pkg/streams"
	"github.com/emfoursolutions/trakbridge/pkg/tak"
	"github.com/emfoursolutions/trakbridge/pkg/util/log"
)

// Server serves the status API over plain HTTP. It binds localhost by
// default; exposing it further is an operator decision made in the service
// configuration.
type Server struct {
	listener net.Listener
	manager  *streams.Manager
	service  *tak.CoTService
}

// NewServer binds the configured address and returns a server ready to start.
func NewServer(manager *streams.Manager, service *tak.CoTService) (*Server, error) {
	address := net.JoinHostPort(
		config.Bridge.GetString("api.bind_host"),
		strconv.Itoa(config.Bridge.GetInt("api.port")),
	)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("unable to create the status api server: %v", err)
	}
	return &Server{
		listener: listener,
		manager:  manager,
		service:  service,
	}, nil
}

// Start creates the router and starts the HTTP server.
func (s *Server) Start() {
	r := mux.NewRouter()
	s.setupHandlers(r)

	srv := &http.Server{
		Handler:      r,
		ErrorLog:     stdLog.New(&log.ErrorLogWriter{}, "Error from the status api server: ", 0), // log errors to seelog
		WriteTimeout: config.Bridge.GetDuration("api.server_timeout") * time.Second,
	}

	go srv.Serve(s.listener) //nolint:errcheck
	log.Infof("Status API server listening on %v", s.Address())
}

// Stop closes the listener, the server stops accepting new requests.
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}
}

// Address returns the address the server listens on.
func (s *Server) Address() *net.TCPAddr {
	return s.listener.Addr().(*net.TCPAddr)
}
