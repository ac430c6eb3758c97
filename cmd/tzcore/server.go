// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"blockwatch.cc/tzgo/tezos"
	"github.com/echa/config"

	"blockwatch.cc/tzcore/roll"
	"blockwatch.cc/tzcore/server"
	"blockwatch.cc/tzcore/storage"
)

func runServer() error {
	printLogo()
	server.UserAgent = UserAgent()

	pathname := config.GetString("db.path")
	if pathname == "" {
		pathname = "./db"
	}
	if err := os.MkdirAll(pathname, 0700); err != nil {
		return err
	}
	log.Infof("using state database at %s", pathname)
	store, err := storage.OpenBolt(filepath.Join(pathname, "state.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	params := tezos.NewParams()
	srv, err := server.New(&server.Config{
		Http: server.HttpConfig{
			Addr:            getString("server.addr", "127.0.0.1"),
			Port:            getInt("server.port", 80),
			UpstreamURL:     getString("server.upstream", "http://127.0.0.1:8732"),
			PolicyPath:      config.GetString("server.policy"),
			MaxConns:        getInt("server.max_conns", 256),
			ReadTimeout:     getDuration("server.read_timeout", 5*time.Second),
			HeaderTimeout:   getDuration("server.header_timeout", 2*time.Second),
			WriteTimeout:    getDuration("server.write_timeout", 30*time.Second),
			KeepAlive:       getDuration("server.keepalive", 90*time.Second),
			ShutdownTimeout: getDuration("server.shutdown_timeout", 15*time.Second),
		},
		Rights: &server.RightsBackend{
			Ctx:    storage.NewContext(store),
			Rolls:  roll.NewRegistry(params),
			Params: params,
		},
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	c := make(chan os.Signal, 1)
	signal.Notify(c,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	<-c
	signal.Stop(c)
	return nil
}

func getString(key, def string) string {
	if v := config.GetString(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := config.GetInt(key); v != 0 {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := config.GetDuration(key); v != 0 {
		return v
	}
	return def
}
