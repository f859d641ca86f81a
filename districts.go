package main

import (
	"database/sql"
	"fmt"
)

func (s *Server) getParticipation(userID int) (*Participation, error) {
	var p Participation
	err := s.db.QueryRow(`
		SELECT id, user_id, district_id, total_contribution, joined_at
		FROM participations
		WHERE user_id = ?
	`, userID).Scan(&p.ID, &p.UserID, &p.DistrictID, &p.TotalContribution, &p.JoinedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// joinDistrict creates the user's participation row. The participations
// table has a unique constraint on user_id, so a user holds at most one
// membership at any time; a concurrent double-join loses on the constraint.
func (s *Server) joinDistrict(userID, districtID int) (*Participation, error) {
	var name string
	err := s.db.QueryRow("SELECT name FROM districts WHERE id = ?", districtID).Scan(&name)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errDistrictNotFound
		}
		return nil, err
	}

	if _, err := s.getParticipation(userID); err == nil {
		return nil, errAlreadyJoined
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	if _, err := s.db.Exec(
		"INSERT INTO participations (user_id, district_id) VALUES (?, ?)",
		userID, districtID,
	); err != nil {
		// Lost a race against another join by the same user.
		if _, checkErr := s.getParticipation(userID); checkErr == nil {
			return nil, errAlreadyJoined
		}
		return nil, err
	}

	s.logActivity(districtID, &userID, "district_joined",
		fmt.Sprintf("user %d joined %s", userID, name), 0)

	return s.getParticipation(userID)
}

// leaveDistrict deletes the participation row. The contribution figure is
// snapshotted into the audit log first so it survives the deletion; the
// user's activity rows are untouched either way.
func (s *Server) leaveDistrict(userID int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var p Participation
	err = tx.QueryRow(`
		SELECT id, district_id, total_contribution
		FROM participations
		WHERE user_id = ?
	`, userID).Scan(&p.ID, &p.DistrictID, &p.TotalContribution)
	if err != nil {
		if err == sql.ErrNoRows {
			return errNotInDistrict
		}
		return err
	}

	if _, err := tx.Exec(`
		INSERT INTO activity_logs (district_id, user_id, action, details, points)
		VALUES (?, ?, 'district_left', ?, ?)
	`, p.DistrictID, userID,
		fmt.Sprintf("user %d left with %d contributed points", userID, p.TotalContribution),
		p.TotalContribution); err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM participations WHERE id = ?", p.ID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Server) listDistricts() ([]District, error) {
	var districts []District
	err := withRetry(func() error {
		rows, err := s.db.Query(`
			SELECT d.id, d.name, d.city, d.total_score, d.trees_planted, d.reports_sent,
			       d.current_rank, d.created_at,
			       (SELECT COUNT(*) FROM participations p WHERE p.district_id = d.id)
			FROM districts d
			ORDER BY d.total_score DESC, d.id ASC
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		districts = districts[:0]
		for rows.Next() {
			var d District
			if err := rows.Scan(&d.ID, &d.Name, &d.City, &d.TotalScore, &d.TreesPlanted,
				&d.ReportsSent, &d.CurrentRank, &d.CreatedAt, &d.Participants); err != nil {
				return err
			}
			districts = append(districts, d)
		}
		return rows.Err()
	})
	return districts, err
}

func (s *Server) getLeaderboardEntries() ([]LeaderboardEntry, error) {
	districts, err := s.listDistricts()
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(districts))
	for _, d := range districts {
		entries = append(entries, LeaderboardEntry{
			Rank:         d.CurrentRank,
			DistrictID:   d.ID,
			DistrictName: d.Name,
			City:         d.City,
			TotalScore:   d.TotalScore,
			TreesPlanted: d.TreesPlanted,
			ReportsSent:  d.ReportsSent,
			Participants: d.Participants,
		})
	}
	return entries, nil
}

func (s *Server) getStats() (*Stats, error) {
	stats := &Stats{}

	err := s.db.QueryRow(`
		SELECT name FROM districts ORDER BY total_score DESC, id ASC LIMIT 1
	`).Scan(&stats.LeadingDistrict)
	if err != nil {
		return stats, err
	}

	if err := s.db.QueryRow(`
		SELECT COALESCE(SUM(total_score), 0) FROM districts
	`).Scan(&stats.TotalPoints); err != nil {
		return stats, err
	}

	if err := s.db.QueryRow(`
		SELECT COUNT(*) FROM participations
	`).Scan(&stats.Participants); err != nil {
		return stats, err
	}

	err = s.db.QueryRow(`
		SELECT COUNT(*) FROM activities WHERE verification_status = 'verified'
	`).Scan(&stats.VerifiedActivities)

	return stats, err
}

// getDistrictLog returns one district with its full activity history,
// newest first.
func (s *Server) getDistrictLog(districtID int) (*District, []Activity, error) {
	var d District
	err := withRetry(func() error {
		return s.db.QueryRow(`
			SELECT d.id, d.name, d.city, d.total_score, d.trees_planted, d.reports_sent,
			       d.current_rank, d.created_at,
			       (SELECT COUNT(*) FROM participations p WHERE p.district_id = d.id)
			FROM districts d
			WHERE d.id = ?
		`, districtID).Scan(&d.ID, &d.Name, &d.City, &d.TotalScore, &d.TreesPlanted,
			&d.ReportsSent, &d.CurrentRank, &d.CreatedAt, &d.Participants)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, errDistrictNotFound
		}
		return nil, nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, user_id, district_id, activity_type, description, photo_ref,
		       latitude, longitude, points_awarded, verification_status,
		       rejection_reason, created_at, verified_at
		FROM activities
		WHERE district_id = ?
		ORDER BY created_at DESC
	`, districtID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var activities []Activity
	for rows.Next() {
		var a Activity
		var desc, photo, reason sql.NullString
		var verifiedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.UserID, &a.DistrictID, &a.ActivityType,
			&desc, &photo, &a.Latitude, &a.Longitude, &a.PointsAwarded,
			&a.Status, &reason, &a.CreatedAt, &verifiedAt); err != nil {
			return nil, nil, err
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

	return &d, activities, rows.Err()
}

// canModerateDistrict mirrors the role model: admins act anywhere, district
// moderators only inside the district they themselves participate in.
func (s *Server) canModerateDistrict(user *User, districtID int) bool {
	switch user.Role {
	case RoleAdmin:
		return true
	case RoleDistrictModerator:
		p, err := s.getParticipation(user.ID)
		return err == nil && p.DistrictID == districtID
	}
	return false
}

func (s *Server) logActivity(districtID int, userID *int, action, details string, points int) {
	_, err := s.db.Exec(`
		INSERT INTO activity_logs (district_id, user_id, action, details, points)
		VALUES (?, ?, ?, ?, ?)
	`, districtID, userID, action, details, points)

	if err != nil {
		s.log.Errorw("log activity", "action", action, "error", err)
	}
}
