package repository

import "time"

// UsageRepository records per-user daily token usage and AI-detector cost
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Day formats a time as the usage day key
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// AddTokens adds to a user's token total for a day
func (r *UsageRepository) AddTokens(userID, day string, tokens int) error {
	_, err := r.db.Exec(`
		INSERT INTO usage (user_id, day, total_tokens) VALUES (?, ?, ?)
		ON CONFLICT (user_id, day) DO UPDATE SET total_tokens = total_tokens + excluded.total_tokens
	`, userID, day, tokens)
	return err
}

// AddDetectorCall records one AI-detector invocation and its latency
func (r *UsageRepository) AddDetectorCall(userID, day string, elapsed time.Duration) error {
	_, err := r.db.Exec(`
		INSERT INTO usage (user_id, day, detector_calls, detector_ms) VALUES (?, ?, 1, ?)
		ON CONFLICT (user_id, day) DO UPDATE SET
			detector_calls = detector_calls + 1,
			detector_ms = detector_ms + excluded.detector_ms
	`, userID, day, elapsed.Milliseconds())
	return err
}

// TokensUsed returns a user's token total for a day
func (r *UsageRepository) TokensUsed(userID, day string) (int, error) {
	var tokens int
	err := r.db.QueryRow(`
		SELECT COALESCE(SUM(total_tokens), 0) FROM usage WHERE user_id = ? AND day = ?
	`, userID, day).Scan(&tokens)
	return tokens, err
}
