package main

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func initDB(path string, log *zap.SugaredLogger) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	if err := seedData(db, log); err != nil {
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS districts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		city TEXT NOT NULL,
		total_score INTEGER NOT NULL DEFAULT 0,
		trees_planted INTEGER NOT NULL DEFAULT 0,
		reports_sent INTEGER NOT NULL DEFAULT 0,
		current_rank INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(name, city)
	);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user' CHECK(role IN ('user', 'district_moderator', 'admin')),
		xp INTEGER NOT NULL DEFAULT 0,
		level INTEGER NOT NULL DEFAULT 1,
		coins INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS participations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL UNIQUE,
		district_id INTEGER NOT NULL,
		total_contribution INTEGER NOT NULL DEFAULT 0,
		joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id),
		FOREIGN KEY (district_id) REFERENCES districts(id)
	);

	CREATE TABLE IF NOT EXISTS activities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		district_id INTEGER NOT NULL,
		activity_type TEXT NOT NULL,
		description TEXT,
		photo_ref TEXT,
		latitude REAL,
		longitude REAL,
		points_awarded INTEGER NOT NULL,
		verification_status TEXT NOT NULL DEFAULT 'pending' CHECK(verification_status IN ('pending', 'verified', 'rejected')),
		rejection_reason TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		verified_at DATETIME,
		FOREIGN KEY (user_id) REFERENCES users(id),
		FOREIGN KEY (district_id) REFERENCES districts(id)
	);

	CREATE TABLE IF NOT EXISTS daily_tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		description TEXT,
		xp_reward INTEGER NOT NULL DEFAULT 0,
		coin_reward INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS task_completions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		task_id INTEGER NOT NULL,
		completed_on TEXT NOT NULL,
		justification TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, task_id, completed_on),
		FOREIGN KEY (user_id) REFERENCES users(id),
		FOREIGN KEY (task_id) REFERENCES daily_tasks(id)
	);

	CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'approved', 'rejected')),
		moderation_reason TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS activity_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		district_id INTEGER NOT NULL,
		user_id INTEGER,
		action TEXT NOT NULL,
		details TEXT,
		points INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (district_id) REFERENCES districts(id),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_activities_status ON activities(verification_status);
	CREATE INDEX IF NOT EXISTS idx_activities_district ON activities(district_id);
	CREATE INDEX IF NOT EXISTS idx_activities_user ON activities(user_id);
	CREATE INDEX IF NOT EXISTS idx_logs_district ON activity_logs(district_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	`

	_, err := db.Exec(schema)
	return err
}

// seedDistricts lists the competing districts per city. The seed order is
// load-bearing: rank ties break toward lower ids, i.e. earlier entries here.
var seedDistricts = []struct {
	Name string
	City string
}{
	{"Bostandyk", "Almaty"},
	{"Medeu", "Almaty"},
	{"Almaly", "Almaty"},
	{"Auezov", "Almaty"},
	{"Alatau", "Almaty"},
	{"Turksib", "Almaty"},
	{"Zhetysu", "Almaty"},
	{"Nauryzbay", "Almaty"},
	{"Esil", "Astana"},
	{"Saryarka", "Astana"},
	{"Baikonur", "Astana"},
}

var seedTasks = []DailyTask{
	{Code: "check_aqi", Title: "Check today's air quality", Description: "Open the city map and check the AQI in your district", XPReward: 10, CoinReward: 2},
	{Code: "public_transport", Title: "Use public transport", Description: "Leave the car at home for one trip", XPReward: 20, CoinReward: 5},
	{Code: "share_tip", Title: "Share an eco tip", Description: "Post one practical eco tip to the feed", XPReward: 15, CoinReward: 3},
	{Code: "water_plant", Title: "Water a tree or plant", Description: "Look after greenery near your home", XPReward: 15, CoinReward: 3},
}

func seedData(db *sql.DB, log *zap.SugaredLogger) error {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM districts").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil // Already seeded
	}

	for _, d := range seedDistricts {
		if _, err := db.Exec("INSERT INTO districts (name, city) VALUES (?, ?)", d.Name, d.City); err != nil {
			return fmt.Errorf("failed to insert district %s: %w", d.Name, err)
		}
	}

	// All districts start at zero, so seed ranks are just the id order.
	if _, err := db.Exec("UPDATE districts SET current_rank = id"); err != nil {
		return err
	}

	for _, t := range seedTasks {
		if _, err := db.Exec(
			"INSERT INTO daily_tasks (code, title, description, xp_reward, coin_reward) VALUES (?, ?, ?, ?, ?)",
			t.Code, t.Title, t.Description, t.XPReward, t.CoinReward,
		); err != nil {
			return fmt.Errorf("failed to insert task %s: %w", t.Code, err)
		}
	}

	adminEmail := os.Getenv("ADMIN_EMAIL")
	if adminEmail == "" {
		adminEmail = "admin@safeair.kz"
	}
	adminPassword := os.Getenv("ADMIN_PASSWORD")
	if adminPassword == "" {
		adminPassword = "admin123"
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	if _, err := db.Exec(
		"INSERT INTO users (email, password, role) VALUES (?, ?, ?)",
		adminEmail, string(hashed), RoleAdmin,
	); err != nil {
		log.Warnw("admin user might already exist", "error", err)
	}

	log.Info("database seeded")
	return nil
}

const readRetries = 3

// withRetry wraps read paths: up to 3 attempts with linear backoff. Not-found
// is not transient and returns immediately. Writes never go through here;
// they are single-attempt by contract.
func withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < readRetries; attempt++ {
		err = fn()
		if err == nil || err == sql.ErrNoRows {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 150 * time.Millisecond)
	}
	return err
}
