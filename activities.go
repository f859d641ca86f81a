package main

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type activitySubmission struct {
	ActivityType string   `json:"activity_type"`
	Description  string   `json:"description"`
	PhotoRef     string   `json:"photo_ref"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
}

// submitActivity inserts a pending activity for the caller's district and,
// when the evidence is complete, runs the auto-verification immediately.
// The insert is a single atomic write: a failed submission leaves nothing
// behind. A failed auto-verification leaves the activity pending and is
// reported alongside the created row.
func (s *Server) submitActivity(userID int, req activitySubmission) (*Activity, error) {
	if !validActivityType(req.ActivityType) {
		return nil, errUnknownActivity
	}

	p, err := s.getParticipation(userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errNotInDistrict
		}
		return nil, err
	}

	points := pointsFor(req.ActivityType)

	res, err := s.db.Exec(`
		INSERT INTO activities (user_id, district_id, activity_type, description, photo_ref, latitude, longitude, points_awarded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, userID, p.DistrictID, req.ActivityType, req.Description, req.PhotoRef, req.Latitude, req.Longitude, points)
	if err != nil {
		return nil, fmt.Errorf("failed to submit activity: %w", err)
	}

	id, _ := res.LastInsertId()

	if hasEvidence(req.PhotoRef, req.Latitude, req.Longitude) {
		a, _, err := s.verifyActivity(int(id), nil)
		if err != nil {
			pending, loadErr := s.getActivity(int(id))
			if loadErr != nil {
				return nil, err
			}
			return pending, fmt.Errorf("auto-verification failed: %w", err)
		}
		return a, nil
	}

	s.logActivity(p.DistrictID, &userID, "activity_submitted",
		fmt.Sprintf("%s submitted (awaiting review)", req.ActivityType), points)

	return s.getActivity(int(id))
}

// verifyActivity performs the one-way pending->verified transition and rolls
// the points into the aggregates in the same transaction. The gate is the
// UPDATE's status predicate: a second call matches zero rows and never
// double-counts. moderator is nil on the auto-verification path.
func (s *Server) verifyActivity(activityID int, moderator *User) (*Activity, bool, error) {
	a, err := s.getActivity(activityID)
	if err != nil {
		return nil, false, err
	}

	if moderator != nil && !s.canModerateDistrict(moderator, a.DistrictID) {
		return nil, false, errForbidden
	}

	if a.Status != StatusPending {
		return nil, false, errAlreadyProcessed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.Exec(`
		UPDATE activities
		SET verification_status = 'verified', verified_at = ?
		WHERE id = ? AND verification_status = 'pending'
	`, now, activityID)
	if err != nil {
		return nil, false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, false, errAlreadyProcessed
	}

	leveledUp, err := applyVerifiedPoints(tx, a)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	s.logActivity(a.DistrictID, &a.UserID, "activity_verified",
		fmt.Sprintf("%s verified, %d points awarded", a.ActivityType, a.PointsAwarded), a.PointsAwarded)

	a, err = s.getActivity(activityID)
	if err != nil {
		return nil, false, err
	}

	s.broadcastUpdate("activity-verified", a)
	if leveledUp {
		s.broadcastUpdate("level-up", map[string]interface{}{"user_id": a.UserID})
	}
	s.broadcastLeaderboardUpdate()

	return a, leveledUp, nil
}

// rejectActivity is the moderator-only pending->rejected transition. Rejected
// activities never touch the aggregates, so no ledger work happens here.
func (s *Server) rejectActivity(activityID int, moderator *User, reason string) (*Activity, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, errReasonRequired
	}

	a, err := s.getActivity(activityID)
	if err != nil {
		return nil, err
	}

	if !s.canModerateDistrict(moderator, a.DistrictID) {
		return nil, errForbidden
	}

	res, err := s.db.Exec(`
		UPDATE activities
		SET verification_status = 'rejected', rejection_reason = ?
		WHERE id = ? AND verification_status = 'pending'
	`, reason, activityID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errAlreadyProcessed
	}

	s.logActivity(a.DistrictID, &moderator.ID, "activity_rejected",
		fmt.Sprintf("%s rejected: %s", a.ActivityType, reason), 0)

	return s.getActivity(activityID)
}

func (s *Server) getActivity(id int) (*Activity, error) {
	var a Activity
	var desc, photo, reason sql.NullString
	var verifiedAt sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, user_id, district_id, activity_type, description, photo_ref,
		       latitude, longitude, points_awarded, verification_status,
		       rejection_reason, created_at, verified_at
		FROM activities
		WHERE id = ?
	`, id).Scan(&a.ID, &a.UserID, &a.DistrictID, &a.ActivityType, &desc, &photo,
		&a.Latitude, &a.Longitude, &a.PointsAwarded, &a.Status,
		&reason, &a.CreatedAt, &verifiedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errActivityNotFound
		}
		return nil, err
	}
	a.Description = desc.String
	a.PhotoRef = photo.String
	a.RejectionReason = reason.String
	if verifiedAt.Valid {
		t := verifiedAt.Time
		a.VerifiedAt = &t
	}
	return &a, nil
}

// listActivities returns the caller's own history, or for moderators the
// pending queue they are allowed to act on (their district, or everything
// for admins).
func (s *Server) listActivities(user *User, status string) ([]Activity, error) {
	query := `
		SELECT id, user_id, district_id, activity_type, description, photo_ref,
		       latitude, longitude, points_awarded, verification_status,
		       rejection_reason, created_at, verified_at
		FROM activities
	`
	var args []interface{}

	switch user.Role {
	case RoleAdmin:
		query += " WHERE verification_status = ?"
		args = append(args, status)
	case RoleDistrictModerator:
		p, err := s.getParticipation(user.ID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, errNotInDistrict
			}
			return nil, err
		}
		query += " WHERE verification_status = ? AND district_id = ?"
		args = append(args, status, p.DistrictID)
	default:
		query += " WHERE user_id = ?"
		args = append(args, user.ID)
	}
	query += " ORDER BY created_at DESC LIMIT 50"

	var activities []Activity
	err := withRetry(func() error {
		rows, err := s.db.Query(query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		activities = activities[:0]
		for rows.Next() {
			var a Activity
			var desc, photo, reason sql.NullString
			var verifiedAt sql.NullTime
			if err := rows.Scan(&a.ID, &a.UserID, &a.DistrictID, &a.ActivityType,
				&desc, &photo, &a.Latitude, &a.Longitude, &a.PointsAwarded,
				&a.Status, &reason, &a.CreatedAt, &verifiedAt); err != nil {
				return err
			}
			a.Description = desc.String
			a.PhotoRef = photo.String
			a.RejectionReason = reason.String
			if verifiedAt.Valid {
				t := verifiedAt.Time
				a.VerifiedAt = &t
			}
			activities = append(activities, a)
		}
		return rows.Err()
	})
	return activities, err
}
