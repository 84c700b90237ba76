// README: Entry point; loads config, wires services, starts HTTP server and background loops.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"unipool/internal/config"
	httptransport "unipool/internal/http"
	"unipool/internal/http/handlers"
	"unipool/internal/infra"
	"unipool/internal/maps"
	"unipool/internal/modules/entryrequest"
	"unipool/internal/modules/matching"
	"unipool/internal/modules/notification"
	"unipool/internal/modules/ride"
	"unipool/internal/modules/riderequest"
	"unipool/internal/modules/student"
	"unipool/internal/realtime"
	"unipool/internal/routing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	publisher := realtime.NewRedisPublisher(redisClient)
	hub := realtime.NewHub(redisClient)

	osrm := routing.NewClient(cfg.OSRM.Endpoint)

	var geocoder handlers.Geocoder
	if cfg.Maps.APIKey != "" {
		g, err := maps.NewGeocodeService(cfg.Maps.APIKey)
		if err != nil {
			log.Fatalf("maps init: %v", err)
		}
		geocoder = g
	}

	studentStore := student.NewStore(dbPool)

	notificationStore := notification.NewPGStore(dbPool)
	notificationSvc := notification.NewService(notificationStore, publisher, cfg.Notification)

	rideStore := ride.NewStore(dbPool)
	rideSvc := ride.NewService(rideStore, publisher, notificationSvc, osrm)

	requestStore := riderequest.NewStore(dbPool)

	entryStore := entryrequest.NewPGStore(dbPool)
	entrySvc := entryrequest.NewService(entryStore, rideStore, requestStore, notificationSvc, osrm)

	matchingSvc := matching.NewService(studentStore, rideStore, requestStore, entrySvc, notificationSvc, osrm, cfg.Matching)

	handler := httptransport.NewServer(httptransport.ServerDeps{
		RideRequests:  handlers.NewRideRequestHandler(matchingSvc, geocoder, requestStore),
		EntryRequests: handlers.NewEntryRequestHandler(entrySvc),
		Rides:         handlers.NewRideHandler(rideSvc),
		Notifications: handlers.NewNotificationHandler(notificationSvc),
		Hub:           hub,
		Logger:        logger,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Router()}

	go hub.Run(ctx)
	go notificationSvc.RunRetrySweep(ctx, cfg.Notification.SweepInterval)

	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
