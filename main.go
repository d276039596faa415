package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"

	"whiteboard-server/collab"
	"whiteboard-server/core"
	"whiteboard-server/handlers/api/rooms"
	"whiteboard-server/handlers/websocket"
	"whiteboard-server/stores"
)

func setupRouter(store core.RoomStore, registry *collab.Registry) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		MaxAge:         300,
	}))

	r.Route("/api/rooms", func(r chi.Router) {
		r.Get("/", rooms.HandleList(store, registry))
		r.Post("/join", rooms.HandleJoin(store))
		r.Get("/{roomId}", rooms.HandleGet(store))
	})

	return r
}

func waitForShutdown(ioo *socketio.Server, buffers *collab.BufferManager, stopSweeps context.CancelFunc) {
	exit := make(chan struct{})
	signalC := make(chan os.Signal, 1)

	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range signalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	logrus.Info("Shutting down...")
	ioo.Close(nil)
	stopSweeps()

	// Buffered strokes must survive the restart.
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	buffers.FlushAll(flushCtx)

	os.Exit(0)
}

func main() {
	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", ":5000", "Set the server listen address")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment as-is")
	}

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)

	store := stores.GetStore()

	registry := collab.NewRegistry()
	cache := collab.NewRoomCache(store)
	buffers := collab.NewBufferManager(store, cache)

	sweepCtx, stopSweeps := context.WithCancel(context.Background())
	cache.Start(sweepCtx)
	buffers.Start(sweepCtx)

	r := setupRouter(store, registry)
	ioo, _ := websocket.SetupSocketIO(store, registry, buffers, cache)
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	logrus.WithField("addr", *listenAddr).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddr, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	waitForShutdown(ioo, buffers, stopSweeps)
}
