package server

import (
	"fmt"
	"intake/internal/cache"
	"intake/internal/config"
	"intake/internal/database"
	"intake/internal/rabbitmq"
	"intake/internal/reconciler"
	"intake/internal/storage"
	"net/http"
	"time"
)

type Server struct {
	db     database.Database
	cache  cache.Cache
	rabbit rabbitmq.Client
	docs   storage.DocumentStore
	rec    *reconciler.Reconciler
	config config.Config
}

func New(config config.Config, db database.Database, cache cache.Cache, rabbit rabbitmq.Client, docs storage.DocumentStore, rec *reconciler.Reconciler) *http.Server {
	server := Server{
		db:     db,
		cache:  cache,
		rabbit: rabbit,
		docs:   docs,
		rec:    rec,
		config: config,
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%v", config.Port),
		Handler:      server.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}
