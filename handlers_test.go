package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doJSON(t *testing.T, s *Server, method, path string, body interface{}, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterLoginMe(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/register", map[string]string{
		"email":    "dana@example.kz",
		"password": "correct-horse",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, s, "POST", "/api/login", map[string]string{
		"email":    "dana@example.kz",
		"password": "correct-horse",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	rec = doJSON(t, s, "GET", "/api/me", nil, cookies)
	require.Equal(t, http.StatusOK, rec.Code)

	var me struct {
		User User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "dana@example.kz", me.User.Email)
	assert.Equal(t, RoleUser, me.User.Role)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/register", map[string]string{
		"email":    "dana@example.kz",
		"password": "correct-horse",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, "POST", "/api/login", map[string]string{
		"email":    "dana@example.kz",
		"password": "wrong-horse",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEndToEndBattleFlow(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/register", map[string]string{
		"email":    "dana@example.kz",
		"password": "correct-horse",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	bostandyk := districtID(t, s, "Bostandyk")

	rec = doJSON(t, s, "POST", fmt.Sprintf("/api/districts/%d/join", bostandyk), nil, cookies)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Joining again conflicts.
	rec = doJSON(t, s, "POST", fmt.Sprintf("/api/districts/%d/join", bostandyk), nil, cookies)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, s, "POST", "/api/activities", map[string]interface{}{
		"activity_type": "tree_planted",
		"photo_ref":     "photos/tree.jpg",
		"latitude":      43.21,
		"longitude":     76.91,
	}, cookies)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Activity Activity `json:"activity"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, StatusVerified, created.Activity.Status)
	assert.Equal(t, 100, created.Activity.PointsAwarded)

	rec = doJSON(t, s, "GET", "/api/districts/leaderboard", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var board struct {
		Leaderboard []LeaderboardEntry `json:"leaderboard"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &board))
	require.NotEmpty(t, board.Leaderboard)
	assert.Equal(t, bostandyk, board.Leaderboard[0].DistrictID)
	assert.Equal(t, 1, board.Leaderboard[0].Rank)
	assert.Equal(t, 100, board.Leaderboard[0].TotalScore)

	rec = doJSON(t, s, "POST", "/api/districts/leave", nil, cookies)
	require.Equal(t, http.StatusOK, rec.Code)

	// Submitting after leaving is an authorization failure, not a write.
	rec = doJSON(t, s, "POST", "/api/activities", map[string]interface{}{
		"activity_type": "cleanup",
	}, cookies)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestActivityEndpointsRequireSession(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/activities", map[string]interface{}{
		"activity_type": "cleanup",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, s, "POST", "/api/districts/1/join", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestApproveRequiresModeratorRole(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/register", map[string]string{
		"email":    "dana@example.kz",
		"password": "correct-horse",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	cookies := rec.Result().Cookies()

	rec = doJSON(t, s, "POST", "/api/activities/1/approve", nil, cookies)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSuggestDistrictEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, "GET", "/api/districts/suggest?lat=43.20&lon=76.90", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Match *District `json:"match"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Match)
	assert.Equal(t, "Bostandyk", resp.Match.Name)

	rec = doJSON(t, s, "GET", "/api/districts/suggest?lat=42.32&lon=69.59", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Match)

	rec = doJSON(t, s, "GET", "/api/districts/suggest", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
