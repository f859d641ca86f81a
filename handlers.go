package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

const sessionTTL = 24 * time.Hour

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Errorw("encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// respondDomainError maps the named business-rule conditions onto HTTP
// statuses; anything unnamed is a generic 500.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errNotInDistrict), errors.Is(err, errForbidden):
		status = http.StatusForbidden
	case errors.Is(err, errAlreadyJoined), errors.Is(err, errAlreadyProcessed), errors.Is(err, errAlreadyCompleted):
		status = http.StatusConflict
	case errors.Is(err, errUnknownActivity), errors.Is(err, errShortJustification), errors.Is(err, errReasonRequired):
		status = http.StatusBadRequest
	case errors.Is(err, errDistrictNotFound), errors.Is(err, errActivityNotFound), errors.Is(err, errTaskNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.log.Errorw("request failed", "error", err)
		s.respondError(w, status, "internal error")
		return
	}
	s.respondError(w, status, err.Error())
}

// Sessions

func (s *Server) createSession(w http.ResponseWriter, userID int) error {
	token := uuid.NewString()
	expires := time.Now().Add(sessionTTL)

	if _, err := s.db.Exec(
		"INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)",
		token, userID, expires,
	); err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Expires:  expires,
	})
	return nil
}

// sessionUser resolves the caller from the session cookie. Returns nil when
// there is no valid session; every operation below receives the user
// explicitly rather than reading ambient state.
func (s *Server) sessionUser(r *http.Request) *User {
	cookie, err := r.Cookie("session")
	if err != nil {
		return nil
	}

	var user User
	err = s.db.QueryRow(`
		SELECT u.id, u.email, u.role, u.xp, u.level, u.coins, u.created_at
		FROM sessions se
		JOIN users u ON u.id = se.user_id
		WHERE se.token = ? AND se.expires_at > ?
	`, cookie.Value, time.Now()).Scan(&user.ID, &user.Email, &user.Role,
		&user.XP, &user.Level, &user.Coins, &user.CreatedAt)
	if err != nil {
		return nil
	}
	return &user
}

// Auth handlers

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		s.respondError(w, http.StatusBadRequest, "valid email is required")
		return
	}
	if len(req.Password) < 8 {
		s.respondError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	res, err := s.db.Exec(
		"INSERT INTO users (email, password, role) VALUES (?, ?, ?)",
		req.Email, string(hashed), RoleUser,
	)
	if err != nil {
		s.respondError(w, http.StatusConflict, "email already registered")
		return
	}

	id, _ := res.LastInsertId()
	if err := s.createSession(w, int(id)); err != nil {
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"id":      id,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var credentials struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request")
		return
	}

	var user User
	var hashedPassword string
	err := s.db.QueryRow(`
		SELECT id, email, password, role, xp, level, coins, created_at
		FROM users
		WHERE email = ?
	`, strings.TrimSpace(strings.ToLower(credentials.Email))).Scan(&user.ID, &user.Email,
		&hashedPassword, &user.Role, &user.XP, &user.Level, &user.Coins, &user.CreatedAt)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(credentials.Password)); err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if err := s.createSession(w, user.ID); err != nil {
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    user,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie("session"); err == nil {
		if _, err := s.db.Exec("DELETE FROM sessions WHERE token = ?", cookie.Value); err != nil {
			s.log.Errorw("delete session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	s.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	user := s.sessionUser(r)
	if user == nil {
		s.respondError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	response := map[string]interface{}{"user": user}
	if p, err := s.getParticipation(user.ID); err == nil {
		response["participation"] = p
	}

	s.respondJSON(w, http.StatusOK, response)
}

// District handlers

func (s *Server) handleListDistricts(w http.ResponseWriter, r *http.Request) {
	districts, err := s.listDistricts()
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, districts)
}

func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.getLeaderboardEntries()
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	stats, err := s.getStats()
	if err != nil {
		s.log.Errorw("get stats", "error", err)
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"leaderboard": entries,
		"stats":       stats,
	})
}

func (s *Server) handleSuggestDistrict(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if errLat != nil || errLon != nil {
		s.respondError(w, http.StatusBadRequest, "lat and lon are required")
		return
	}

	box := suggestDistrict(lat, lon)
	if box == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"match": nil})
		return
	}

	var district District
	err := s.db.QueryRow(`
		SELECT id, name, city, total_score, trees_planted, reports_sent, current_rank, created_at
		FROM districts
		WHERE name = ? AND city = ?
	`, box.Name, box.City).Scan(&district.ID, &district.Name, &district.City,
		&district.TotalScore, &district.TreesPlanted, &district.ReportsSent,
		&district.CurrentRank, &district.CreatedAt)
	if err != nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"match": nil})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{"match": district})
}

func (s *Server) handleJoinDistrict(w http.ResponseWriter, r *http.Request) {
	user := s.sessionUser(r)
	if user == nil {
		s.respondError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	districtID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid district ID")
		return
	}

	p, err := s.joinDistrict(user.ID, districtID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.broadcastLeaderboardUpdate()

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success":       true,
		"participation": p,
	})
}

func (s *Server) handleLeaveDistrict(w http.ResponseWriter, r *http.Request) {
	user := s.sessionUser(r)
	if user == nil {
		s.respondError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	if err := s.leaveDistrict(user.ID); err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.broadcastLeaderboardUpdate()

	s.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleGetDistrictLog(w http.ResponseWriter, r *http.Request) {
	districtID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid district ID")
		return
	}

	district, activities, err := s.getDistrictLog(districtID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"district":   district,
		"activities": activities,
	})
}

// Activity handlers

func (s *Server) handleSubmitActivity(w http.ResponseWriter, r *http.Request) {
	user := s.sessionUser(r)
	if user == nil {
		s.respondError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	var req activitySubmission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request")
		return
	}

	activity, err := s.submitActivity(user.ID, req)
	if err != nil {
		if activity != nil {
			// Inserted but the auto-verification write failed: the claim is
			// safely pending, report the failure with the row.
			s.log.Errorw("auto-verification failed", "activity", activity.ID, "error", err)
			s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
				"success":  false,
				"activity": activity,
				"error":    "submitted, but verification could not be completed",
			})
			return
		}
		s.respondDomainError(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success":  true,
		"activity": activity,
	})
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	user := s.sessionUser(r)
	if user == nil {
		s.respondError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	status := r.URL.Query().Get("status")
	if status == "" {
		status = StatusPending
	}

	activities, err := s.listActivities(user, status)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, activities)
}

func (s *Server) handleApproveActivity(w http.ResponseWriter, r *http.Request) {
	user := s.sessionUser(r)
	if user == nil {
		s.respondError(w, http.StatusUnauthorized, "not signed in")
		return
	}
	if user.Role != RoleAdmin && user.Role != RoleDistrictModerator {
		s.respondError(w, http.StatusForbidden, "moderator role required")
		return
	}

	activityID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid activity ID")
		return
	}

	activity, _, err := s.verifyActivity(activityID, user)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"activity": activity,
	})
}

func (s *Server) handleRejectActivity(w http.ResponseWriter, r *http.Request) {
	user := s.sessionUser(r)
	if user == nil {
		s.respondError(w, http.StatusUnauthorized, "not signed in")
		return
	}
	if user.Role != RoleAdmin && user.Role != RoleDistrictModerator {
		s.respondError(w, http.StatusForbidden, "moderator role required")
		return
	}

	activityID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid activity ID")
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request")
		return
	}

	activity, err := s.rejectActivity(activityID, user, req.Reason)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"activity": activity,
	})
}

// Task handlers

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.listTasks()
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	user := s.sessionUser(r)
	if user == nil {
		s.respondError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	taskID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid task ID")
		return
	}

	var req struct {
		Justification string `json:"justification"`
		PhotoRef      string `json:"photo_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request")
		return
	}

	task, leveledUp, err := s.completeTask(user.ID, taskID, req.Justification, req.PhotoRef)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"task":       task,
		"leveled_up": leveledUp,
	})
}

// Feed and scan handlers

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	user := s.sessionUser(r)
	if user == nil {
		s.respondError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.respondError(w, http.StatusBadRequest, "content is required")
		return
	}

	post, err := s.createPost(user.ID, req.Content)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"post":    post,
	})
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	user := s.sessionUser(r)
	if user == nil {
		s.respondError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	posts, err := s.listPosts(user.ID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, posts)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	user := s.sessionUser(r)
	if user == nil {
		s.respondError(w, http.StatusUnauthorized, "not signed in")
		return
	}

	var req struct {
		Image    string `json:"image"`
		MimeType string `json:"mime_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request")
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil || len(data) == 0 {
		s.respondError(w, http.StatusBadRequest, "image must be base64 encoded")
		return
	}
	if req.MimeType == "" {
		req.MimeType = "image/jpeg"
	}

	verdict, leveledUp, err := s.validateScan(user.ID, data, req.MimeType)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    verdict.IsRelevant && verdict.IsQualityOk,
		"verdict":    verdict,
		"leveled_up": leveledUp,
	})
}
