package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

type Server struct {
	db        *sql.DB
	router    *mux.Router
	hub       *Hub
	upgrader  websocket.Upgrader
	log       *zap.SugaredLogger
	moderator Moderator
}

func NewServer(dbPath string, moderator Moderator, log *zap.SugaredLogger) (*Server, error) {
	db, err := initDB(dbPath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	s := &Server{
		db:     db,
		router: mux.NewRouter(),
		hub:    newHub(log),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log:       log,
		moderator: moderator,
	}

	s.setupRoutes()
	go s.hub.run()

	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Auth
	api.HandleFunc("/register", s.handleRegister).Methods("POST")
	api.HandleFunc("/login", s.handleLogin).Methods("POST")
	api.HandleFunc("/logout", s.handleLogout).Methods("POST")
	api.HandleFunc("/me", s.handleGetMe).Methods("GET")

	// Districts & membership
	api.HandleFunc("/districts", s.handleListDistricts).Methods("GET")
	api.HandleFunc("/districts/leaderboard", s.handleGetLeaderboard).Methods("GET")
	api.HandleFunc("/districts/suggest", s.handleSuggestDistrict).Methods("GET")
	api.HandleFunc("/districts/leave", s.handleLeaveDistrict).Methods("POST")
	api.HandleFunc("/districts/{id}/join", s.handleJoinDistrict).Methods("POST")
	api.HandleFunc("/districts/{id}/log", s.handleGetDistrictLog).Methods("GET")

	// Activities
	api.HandleFunc("/activities", s.handleSubmitActivity).Methods("POST")
	api.HandleFunc("/activities", s.handleListActivities).Methods("GET")
	api.HandleFunc("/activities/{id}/approve", s.handleApproveActivity).Methods("POST")
	api.HandleFunc("/activities/{id}/reject", s.handleRejectActivity).Methods("POST")

	// Daily tasks
	api.HandleFunc("/tasks", s.handleListTasks).Methods("GET")
	api.HandleFunc("/tasks/{id}/complete", s.handleCompleteTask).Methods("POST")

	// Social feed & AR scan
	api.HandleFunc("/posts", s.handleCreatePost).Methods("POST")
	api.HandleFunc("/posts", s.handleListPosts).Methods("GET")
	api.HandleFunc("/scan", s.handleScan).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// broadcastUpdate fans a typed event out to every connected client.
func (s *Server) broadcastUpdate(updateType string, data interface{}) {
	message := map[string]interface{}{
		"type": updateType,
		"data": data,
	}

	jsonData, err := json.Marshal(message)
	if err != nil {
		s.log.Errorw("marshal broadcast payload", "error", err)
		return
	}

	s.hub.broadcast <- jsonData
}

func (s *Server) broadcastLeaderboardUpdate() {
	entries, err := s.getLeaderboardEntries()
	if err != nil {
		s.log.Errorw("leaderboard broadcast", "error", err)
		return
	}
	stats, _ := s.getStats()

	s.broadcastUpdate("leaderboard-update", map[string]interface{}{
		"leaderboard": entries,
		"stats":       stats,
	})
}

func main() {
	var logger *zap.Logger
	var err error
	if os.Getenv("DEBUG") == "1" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	dbPath := os.Getenv("SAFEAIR_DB")
	if dbPath == "" {
		dbPath = "./safeair.db"
	}

	var moderator Moderator
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		moderator, err = NewAIModerator(key, os.Getenv("GEMINI_MODEL"))
		if err != nil {
			log.Fatalw("moderator init failed", "error", err)
		}
	} else {
		log.Warn("GEMINI_API_KEY not set, posts will stay pending")
	}

	server, err := NewServer(dbPath, moderator, log)
	if err != nil {
		log.Fatal(err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Infof("server starting on port %s", port)
	if err := http.ListenAndServe(":"+port, server.router); err != nil {
		log.Fatal(err)
	}
}
