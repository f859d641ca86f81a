package main

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinIsExclusive(t *testing.T) {
	s := newTestServer(t)
	user := createTestUser(t, s, "aizhan@example.kz", RoleUser)

	bostandyk := districtID(t, s, "Bostandyk")
	medeu := districtID(t, s, "Medeu")

	p, err := s.joinDistrict(user.ID, bostandyk)
	require.NoError(t, err)
	assert.Equal(t, bostandyk, p.DistrictID)
	assert.Equal(t, 0, p.TotalContribution)

	_, err = s.joinDistrict(user.ID, medeu)
	assert.ErrorIs(t, err, errAlreadyJoined)

	var count int
	require.NoError(t, s.db.QueryRow(
		"SELECT COUNT(*) FROM participations WHERE user_id = ?", user.ID,
	).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestJoinUnknownDistrict(t *testing.T) {
	s := newTestServer(t)
	user := createTestUser(t, s, "aizhan@example.kz", RoleUser)

	_, err := s.joinDistrict(user.ID, 9999)
	assert.ErrorIs(t, err, errDistrictNotFound)
}

func TestLeaveWithoutMembership(t *testing.T) {
	s := newTestServer(t)
	user := createTestUser(t, s, "aizhan@example.kz", RoleUser)

	assert.ErrorIs(t, s.leaveDistrict(user.ID), errNotInDistrict)
}

func TestLeavePreservesHistory(t *testing.T) {
	s := newTestServer(t)
	user := createTestUser(t, s, "aizhan@example.kz", RoleUser)
	auezov := districtID(t, s, "Auezov")

	_, err := s.joinDistrict(user.ID, auezov)
	require.NoError(t, err)

	_, err = s.submitActivity(user.ID, activitySubmission{
		ActivityType: ActivityTreePlanted,
		PhotoRef:     "photos/tree.jpg",
		Latitude:     ptr(43.23),
		Longitude:    ptr(76.85),
	})
	require.NoError(t, err)

	require.NoError(t, s.leaveDistrict(user.ID))

	_, err = s.getParticipation(user.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	// The activity rows are an immutable audit trail and stay behind.
	var activityCount int
	require.NoError(t, s.db.QueryRow(
		"SELECT COUNT(*) FROM activities WHERE user_id = ?", user.ID,
	).Scan(&activityCount))
	assert.Equal(t, 1, activityCount)

	// The contribution figure survives in the audit log.
	var loggedPoints int
	require.NoError(t, s.db.QueryRow(`
		SELECT points FROM activity_logs
		WHERE district_id = ? AND user_id = ? AND action = 'district_left'
	`, auezov, user.ID).Scan(&loggedPoints))
	assert.Equal(t, 100, loggedPoints)

	// The district keeps the verified points.
	assert.Equal(t, 100, districtByID(t, s, auezov).TotalScore)
}

func TestVerifiedPointsSkipDepartedParticipation(t *testing.T) {
	s := newTestServer(t)
	user := createTestUser(t, s, "aizhan@example.kz", RoleUser)
	admin := createTestUser(t, s, "moderator@safeair.kz", RoleAdmin)

	alatau := districtID(t, s, "Alatau")
	esil := districtID(t, s, "Esil")

	_, err := s.joinDistrict(user.ID, alatau)
	require.NoError(t, err)

	a, err := s.submitActivity(user.ID, activitySubmission{ActivityType: ActivityCleanup})
	require.NoError(t, err)

	// The user switches districts while the claim is still pending.
	require.NoError(t, s.leaveDistrict(user.ID))
	_, err = s.joinDistrict(user.ID, esil)
	require.NoError(t, err)

	_, _, err = s.verifyActivity(a.ID, admin)
	require.NoError(t, err)

	// Points land on the snapshotted district, not the new membership.
	assert.Equal(t, 75, districtByID(t, s, alatau).TotalScore)
	assert.Equal(t, 0, districtByID(t, s, esil).TotalScore)

	p, err := s.getParticipation(user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.TotalContribution, "contribution must not leak into the new district")
}

func TestLeaderboardParticipantCounts(t *testing.T) {
	s := newTestServer(t)
	bostandyk := districtID(t, s, "Bostandyk")

	for _, email := range []string{"a@example.kz", "b@example.kz", "c@example.kz"} {
		u := createTestUser(t, s, email, RoleUser)
		_, err := s.joinDistrict(u.ID, bostandyk)
		require.NoError(t, err)
	}

	entries, err := s.getLeaderboardEntries()
	require.NoError(t, err)

	for _, e := range entries {
		if e.DistrictID == bostandyk {
			assert.Equal(t, 3, e.Participants)
			return
		}
	}
	t.Fatalf("district %d missing from leaderboard", bostandyk)
}

func TestDistrictLog(t *testing.T) {
	s := newTestServer(t)
	user := createTestUser(t, s, "aizhan@example.kz", RoleUser)
	nauryzbay := districtID(t, s, "Nauryzbay")

	_, err := s.joinDistrict(user.ID, nauryzbay)
	require.NoError(t, err)

	_, err = s.submitActivity(user.ID, activitySubmission{ActivityType: ActivityEcoLesson})
	require.NoError(t, err)
	_, err = s.submitActivity(user.ID, activitySubmission{
		ActivityType: ActivityReportSent,
		PhotoRef:     "photos/report.jpg",
		Latitude:     ptr(43.19),
		Longitude:    ptr(76.8),
	})
	require.NoError(t, err)

	d, activities, err := s.getDistrictLog(nauryzbay)
	require.NoError(t, err)
	assert.Equal(t, "Nauryzbay", d.Name)
	assert.Equal(t, 50, d.TotalScore)
	assert.Equal(t, 1, d.ReportsSent)
	assert.Len(t, activities, 2)

	_, _, err = s.getDistrictLog(9999)
	assert.ErrorIs(t, err, errDistrictNotFound)
}

func TestStats(t *testing.T) {
	s := newTestServer(t)
	user := createTestUser(t, s, "aizhan@example.kz", RoleUser)

	_, err := s.joinDistrict(user.ID, districtID(t, s, "Medeu"))
	require.NoError(t, err)

	_, err = s.submitActivity(user.ID, activitySubmission{
		ActivityType: ActivityTreePlanted,
		PhotoRef:     "photos/tree.jpg",
		Latitude:     ptr(43.2),
		Longitude:    ptr(77.0),
	})
	require.NoError(t, err)

	stats, err := s.getStats()
	require.NoError(t, err)
	assert.Equal(t, "Medeu", stats.LeadingDistrict)
	assert.Equal(t, 100, stats.TotalPoints)
	assert.Equal(t, 1, stats.Participants)
	assert.Equal(t, 1, stats.VerifiedActivities)
}
