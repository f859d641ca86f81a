package main

import (
	"errors"
	"time"
)

// Activity types form a closed table; submissions with any other type are
// rejected before a write is attempted.
const (
	ActivityTreePlanted = "tree_planted"
	ActivityReportSent  = "report_sent"
	ActivityCarFreeDay  = "car_free_day"
	ActivityEcoLesson   = "eco_lesson"
	ActivityCleanup     = "cleanup"
	ActivityRecycling   = "recycling"
)

// activityPoints is fixed at submission time: points_awarded is stamped on
// the activity row and never recomputed afterwards.
var activityPoints = map[string]int{
	ActivityTreePlanted: 100,
	ActivityCleanup:     75,
	ActivityReportSent:  50,
	ActivityRecycling:   30,
	ActivityCarFreeDay:  25,
	ActivityEcoLesson:   20,
}

const defaultActivityPoints = 10

const (
	StatusPending  = "pending"
	StatusVerified = "verified"
	StatusRejected = "rejected"
)

const (
	RoleUser              = "user"
	RoleDistrictModerator = "district_moderator"
	RoleAdmin             = "admin"
)

// Named business-rule conditions. Handlers translate these into HTTP
// statuses; everything else surfaces as a generic failure.
var (
	errNotInDistrict      = errors.New("user is not a member of any district")
	errAlreadyJoined      = errors.New("user already belongs to a district")
	errAlreadyProcessed   = errors.New("activity is no longer pending")
	errAlreadyCompleted   = errors.New("task already completed today")
	errUnknownActivity    = errors.New("unrecognized activity type")
	errDistrictNotFound   = errors.New("district not found")
	errActivityNotFound   = errors.New("activity not found")
	errTaskNotFound       = errors.New("task not found")
	errShortJustification = errors.New("justification must be at least 3 characters")
	errReasonRequired     = errors.New("rejection reason is required")
	errForbidden          = errors.New("not authorized for this district")
)

type District struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	City         string    `json:"city"`
	TotalScore   int       `json:"total_score"`
	TreesPlanted int       `json:"trees_planted"`
	ReportsSent  int       `json:"reports_sent"`
	CurrentRank  int       `json:"current_rank"`
	Participants int       `json:"participants_count"`
	CreatedAt    time.Time `json:"created_at"`
}

type User struct {
	ID        int       `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	XP        int       `json:"xp"`
	Level     int       `json:"level"`
	Coins     int       `json:"coins"`
	CreatedAt time.Time `json:"created_at"`
}

type Participation struct {
	ID                int       `json:"id"`
	UserID            int       `json:"user_id"`
	DistrictID        int       `json:"district_id"`
	TotalContribution int       `json:"total_contribution"`
	JoinedAt          time.Time `json:"joined_at"`
}

type Activity struct {
	ID              int        `json:"id"`
	UserID          int        `json:"user_id"`
	DistrictID      int        `json:"district_id"`
	ActivityType    string     `json:"activity_type"`
	Description     string     `json:"description,omitempty"`
	PhotoRef        string     `json:"photo_ref,omitempty"`
	Latitude        *float64   `json:"latitude,omitempty"`
	Longitude       *float64   `json:"longitude,omitempty"`
	PointsAwarded   int        `json:"points_awarded"`
	Status          string     `json:"verification_status"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
}

type DailyTask struct {
	ID          int    `json:"id"`
	Code        string `json:"code"`
	Title       string `json:"title"`
	Description string `json:"description"`
	XPReward    int    `json:"xp_reward"`
	CoinReward  int    `json:"coin_reward"`
}

type Post struct {
	ID               int       `json:"id"`
	UserID           int       `json:"user_id"`
	Content          string    `json:"content"`
	Status           string    `json:"status"`
	ModerationReason string    `json:"moderation_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type LeaderboardEntry struct {
	Rank         int    `json:"rank"`
	DistrictID   int    `json:"district_id"`
	DistrictName string `json:"district_name"`
	City         string `json:"city"`
	TotalScore   int    `json:"total_score"`
	TreesPlanted int    `json:"trees_planted"`
	ReportsSent  int    `json:"reports_sent"`
	Participants int    `json:"participants"`
}

type Stats struct {
	LeadingDistrict    string `json:"leading_district"`
	TotalPoints        int    `json:"total_points"`
	Participants       int    `json:"participants"`
	VerifiedActivities int    `json:"verified_activities"`
}

// pointsFor resolves the closed activity-type table. The default only fires
// if a type is added to the table without a point value.
func pointsFor(activityType string) int {
	if pts, ok := activityPoints[activityType]; ok {
		return pts
	}
	return defaultActivityPoints
}

func validActivityType(activityType string) bool {
	_, ok := activityPoints[activityType]
	return ok
}

// hasEvidence is the two-factor trust heuristic: a submission carrying both
// a photo reference and a coordinate pair is auto-verified. Presence only;
// the photo is never matched against the claim and the coordinates are never
// checked against the district boundary.
func hasEvidence(photoRef string, lat, lon *float64) bool {
	return photoRef != "" && lat != nil && lon != nil
}
