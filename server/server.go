package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"echonote/cache"
	"echonote/config"
	"echonote/core/collab"
	"echonote/core/transcribe"
	"echonote/db"
	"echonote/logger"
	"echonote/model"
	"echonote/repository"
	"echonote/storage"

	"github.com/gorilla/mux"
)

// Start initializes dependencies and runs the HTTP server until a
// termination signal arrives.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogPath,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	})

	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("failed to connect to database", logger.ErrorField(err))
	}
	defer db.CloseGormDB()

	if err := db.AutoMigrateModels(&model.Note{}, &model.Folder{}); err != nil {
		logger.Fatal("failed to migrate models", logger.ErrorField(err))
	}

	if err := db.ConnectRedis(cfg); err != nil {
		logger.Fatal("failed to connect to Redis", logger.ErrorField(err))
	}
	defer db.CloseRedis()
	logger.Info("connected to Redis")

	store, err := storage.NewAudioStore(cfg)
	if err != nil {
		logger.Fatal("failed to initialize audio store", logger.ErrorField(err))
	}

	noteRepo := repository.NewGormNoteRepository(db.GormDB)
	folderRepo := repository.NewGormFolderRepository(db.GormDB)
	presence := cache.NewPresenceCache()
	hub := collab.NewNoteHub(presence)
	pipeline := transcribe.NewPipeline(store, transcribe.NewOpenAIProvider(cfg))

	apiHandler := NewAPIHandler(cfg, noteRepo, folderRepo, store, pipeline, hub, presence)
	syncHandler := NewSyncHandler(cfg, hub)

	router := mux.NewRouter()

	// CORS middleware
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", cfg.CORSAllowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// Note endpoints
	router.HandleFunc("/api/notes", apiHandler.AuthMiddleware(apiHandler.CreateNoteHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/notes", apiHandler.AuthMiddleware(apiHandler.SearchNotesHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/notes/{note_id}", apiHandler.AuthMiddleware(apiHandler.GetNoteHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/notes/{note_id}", apiHandler.AuthMiddleware(apiHandler.UpdateNoteHandler)).Methods(http.MethodPut)
	router.HandleFunc("/api/notes/{note_id}/audio", apiHandler.AuthMiddleware(apiHandler.UploadAudioHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/notes/{note_id}/transcribe", apiHandler.AuthMiddleware(apiHandler.TranscribeNoteHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/notes/{note_id}/editors", apiHandler.AuthMiddleware(apiHandler.GetEditorsHandler)).Methods(http.MethodGet)

	// Folder endpoints
	router.HandleFunc("/api/folders", apiHandler.AuthMiddleware(apiHandler.ListFoldersHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/folders", apiHandler.AuthMiddleware(apiHandler.CreateFolderHandler)).Methods(http.MethodPost)

	// Sync websocket endpoint
	router.HandleFunc("/ws/notes", syncHandler.WebSocketHandler)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", logger.ErrorField(err))
	}

	logger.Info("server stopped")
}
