package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codekids/pyquest/pkg/configuration"
	"github.com/codekids/pyquest/pkg/lessons"
	"github.com/codekids/pyquest/pkg/logger"
	"github.com/codekids/pyquest/pkg/playground"
	"github.com/codekids/pyquest/pkg/runstore"
	tlsmanager "github.com/codekids/pyquest/pkg/tls"
)

func main() {
	configPath := flag.String("config", "settings.cfg", "path to the settings file")
	flag.Parse()

	// Configuration first, everything else reads from it.
	if err := configuration.Initialize(*configPath); err != nil {
		fmt.Printf("Error initializing configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Initialize(); err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()
	logger.ConfigInfo("System started - Configuration loaded from: %s", *configPath)

	if err := run(); err != nil {
		logger.Error(logger.AreaGeneral, "server stopped: %v", err)
		fmt.Printf("Error: %v\n", err)
		logger.Close()
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := lessons.Load()
	if err != nil {
		return fmt.Errorf("loading lessons: %w", err)
	}
	logger.Info(logger.AreaLessons, "%d lessons loaded", len(catalog.All()))

	store, err := runstore.Open(configuration.GetString("Server", "database_path", "./pyquest.db"))
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	defer store.Close()
	go store.RunPurger(ctx, configuration.GetDuration("Session", "purge_interval", 5*time.Minute))

	tlsManager, err := tlsmanager.NewManager(tlsmanager.ConfigFromSettings())
	if err != nil {
		return err
	}

	api := playground.NewServer(catalog, store, lessons.LogNotifier{})
	mux := http.NewServeMux()
	apiHandler := api.Handler()
	mux.Handle("/api/", apiHandler)
	mux.Handle("/ws/", apiHandler)
	mux.Handle("/", staticHandler(configuration.GetString("Server", "static_dir", "./static")))

	server := &http.Server{
		Addr:         configuration.GetString("Server", "listen_addr", ":8080"),
		Handler:      mux,
		ReadTimeout:  configuration.GetDuration("Server", "read_timeout", 10*time.Second),
		WriteTimeout: configuration.GetDuration("Server", "write_timeout", 15*time.Second),
	}
	servers := []*http.Server{server}
	errc := make(chan error, 2)

	if tlsManager.Enabled() {
		server.Addr = tlsManager.HTTPSAddr()
		server.TLSConfig = tlsManager.TLSConfig()
		if tlsManager.NeedsHTTPServer() {
			helper := &http.Server{
				Addr:        tlsManager.HTTPAddr(),
				Handler:     tlsManager.HTTPHandler(),
				ReadTimeout: server.ReadTimeout,
			}
			servers = append(servers, helper)
			go serve(helper, errc, helper.ListenAndServe)
		}
		go serve(server, errc, func() error { return server.ListenAndServeTLS("", "") })
	} else {
		go serve(server, errc, server.ListenAndServe)
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info(logger.AreaGeneral, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		configuration.GetDuration("Server", "shutdown_timeout", 10*time.Second))
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Warn(logger.AreaGeneral, "shutdown of %s: %v", s.Addr, err)
		}
	}
	return nil
}

func serve(s *http.Server, errc chan<- error, listen func() error) {
	logger.Info(logger.AreaGeneral, "listening on %s", s.Addr)
	if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errc <- fmt.Errorf("server on %s: %w", s.Addr, err)
	}
}

// staticHandler serves the web frontend when the directory exists.
func staticHandler(dir string) http.Handler {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		logger.Warn(logger.AreaGeneral, "static directory %s not found, serving the API only", dir)
		return http.NotFoundHandler()
	}
	return http.FileServer(http.Dir(dir))
}
