package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/liliang-cn/veilchat/internal/domain"
	"github.com/liliang-cn/veilchat/internal/repository"
)

// QuotaTracker enforces the per-user daily token quota and records usage.
// Usage writes are best-effort: a failed write is logged, never surfaced.
type QuotaTracker struct {
	usageRepo  *repository.UsageRepository
	dailyQuota int
	logger     *zap.Logger
}

// NewQuotaTracker creates a quota tracker. A dailyQuota of zero or less
// disables the quota check.
func NewQuotaTracker(usageRepo *repository.UsageRepository, dailyQuota int, logger *zap.Logger) *QuotaTracker {
	return &QuotaTracker{
		usageRepo:  usageRepo,
		dailyQuota: dailyQuota,
		logger:     logger,
	}
}

// CheckQuota returns ErrQuotaExceeded once a user's tokens for today reach
// the daily quota
func (q *QuotaTracker) CheckQuota(userID string) error {
	if q.dailyQuota <= 0 {
		return nil
	}

	used, err := q.usageRepo.TokensUsed(userID, repository.Day(time.Now()))
	if err != nil {
		// Fail open: a broken usage read should not take chat down
		q.logger.Warn("quota lookup failed", zap.String("user_id", userID), zap.Error(err))
		return nil
	}

	if used >= q.dailyQuota {
		return domain.ErrQuotaExceeded
	}
	return nil
}

// TrackUsage records tokens consumed by a user today
func (q *QuotaTracker) TrackUsage(userID string, tokens int) {
	if tokens <= 0 {
		return
	}
	if err := q.usageRepo.AddTokens(userID, repository.Day(time.Now()), tokens); err != nil {
		q.logger.Warn("usage tracking failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// TrackDetectorCall records one AI-detector invocation and its latency
func (q *QuotaTracker) TrackDetectorCall(userID string, elapsed time.Duration) {
	if err := q.usageRepo.AddDetectorCall(userID, repository.Day(time.Now()), elapsed); err != nil {
		q.logger.Warn("detector usage tracking failed", zap.String("user_id", userID), zap.Error(err))
	}
}
