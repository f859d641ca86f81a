package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const moderationTimeout = 15 * time.Second

// AR scan rewards are flat; the scan is not a district activity.
const (
	scanXPReward   = 15
	scanCoinReward = 5
)

// createPost stores a feed post and runs it through text moderation.
// Appropriate and relevant posts are approved, anything else is rejected
// with the model's reason. Without a configured moderator the post stays
// pending for manual review.
func (s *Server) createPost(userID int, content string) (*Post, error) {
	status := "pending"
	reason := ""

	if s.moderator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), moderationTimeout)
		defer cancel()

		verdict, err := s.moderator.CheckText(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("moderation unavailable: %w", err)
		}
		if verdict.IsAppropriate && verdict.IsRelevant {
			status = "approved"
		} else {
			status = "rejected"
			reason = verdict.Reason
		}
	}

	res, err := s.db.Exec(`
		INSERT INTO posts (user_id, content, status, moderation_reason)
		VALUES (?, ?, ?, ?)
	`, userID, content, status, reason)
	if err != nil {
		return nil, err
	}

	id, _ := res.LastInsertId()
	return s.getPost(int(id))
}

func (s *Server) getPost(id int) (*Post, error) {
	var p Post
	var reason sql.NullString
	err := s.db.QueryRow(`
		SELECT id, user_id, content, status, moderation_reason, created_at
		FROM posts
		WHERE id = ?
	`, id).Scan(&p.ID, &p.UserID, &p.Content, &p.Status, &reason, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.ModerationReason = reason.String
	return &p, nil
}

// listPosts returns the approved feed plus the caller's own posts in any
// state, newest first.
func (s *Server) listPosts(userID int) ([]Post, error) {
	var posts []Post
	err := withRetry(func() error {
		rows, err := s.db.Query(`
			SELECT id, user_id, content, status, moderation_reason, created_at
			FROM posts
			WHERE status = 'approved' OR user_id = ?
			ORDER BY created_at DESC
			LIMIT 100
		`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		posts = posts[:0]
		for rows.Next() {
			var p Post
			var reason sql.NullString
			if err := rows.Scan(&p.ID, &p.UserID, &p.Content, &p.Status, &reason, &p.CreatedAt); err != nil {
				return err
			}
			p.ModerationReason = reason.String
			posts = append(posts, p)
		}
		return rows.Err()
	})
	return posts, err
}

// validateScan runs an AR-scan image through the image moderator and, when
// the image passes, credits the flat scan reward.
func (s *Server) validateScan(userID int, data []byte, mimeType string) (*ImageVerdict, bool, error) {
	if s.moderator == nil {
		return nil, false, fmt.Errorf("scan validation is not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), moderationTimeout)
	defer cancel()

	verdict, err := s.moderator.CheckImage(ctx, data, mimeType)
	if err != nil {
		return nil, false, err
	}

	if !verdict.IsRelevant || !verdict.IsQualityOk {
		return verdict, false, nil
	}

	leveledUp, err := awardXP(s.db, userID, scanXPReward, scanCoinReward)
	if err != nil {
		return nil, false, err
	}
	if leveledUp {
		s.broadcastUpdate("level-up", map[string]interface{}{"user_id": userID})
	}

	return verdict, leveledUp, nil
}
