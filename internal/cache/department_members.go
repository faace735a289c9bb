package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/erp-suite/ticketflow/internal/domain"
	"github.com/erp-suite/ticketflow/internal/persistence"
	"github.com/erp-suite/ticketflow/internal/repository"
)

// DepartmentMembers caches the active member list of each department in
// redis. Membership is the assignment candidate set, so it sits on the
// hot path of every assign call. Cache misses and redis outages fall
// back to the user repository.
type DepartmentMembers struct {
	redis  *persistence.Redis
	users  repository.UserRepository
	ttl    time.Duration
	logger *zap.Logger
}

// NewDepartmentMembers creates the cache. A nil redis handle disables
// caching entirely.
func NewDepartmentMembers(redis *persistence.Redis, users repository.UserRepository, ttl time.Duration, logger *zap.Logger) *DepartmentMembers {
	return &DepartmentMembers{redis: redis, users: users, ttl: ttl, logger: logger}
}

func membersKey(departmentID int64) string {
	return fmt.Sprintf("dept:%d:members", departmentID)
}

// Members returns the active users of a department, cached.
func (c *DepartmentMembers) Members(ctx context.Context, departmentID int64) ([]domain.User, error) {
	if cached, ok := c.fetch(ctx, departmentID); ok {
		return cached, nil
	}

	members, err := c.users.ListActiveByDepartment(ctx, departmentID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, departmentID, members)
	return members, nil
}

// Invalidate drops the cached member list for a department.
func (c *DepartmentMembers) Invalidate(ctx context.Context, departmentID int64) {
	if c.redis == nil || c.redis.Client == nil {
		return
	}
	if err := c.redis.Client.Del(ctx, membersKey(departmentID)).Err(); err != nil {
		c.logger.Warn("department members cache invalidate failed", zap.Int64("department_id", departmentID), zap.Error(err))
	}
}

func (c *DepartmentMembers) fetch(ctx context.Context, departmentID int64) ([]domain.User, bool) {
	if c.redis == nil || c.redis.Client == nil || c.ttl <= 0 {
		return nil, false
	}
	payload, err := c.redis.Client.Get(ctx, membersKey(departmentID)).Bytes()
	if err != nil {
		return nil, false
	}
	var members []domain.User
	if err := json.Unmarshal(payload, &members); err != nil {
		c.logger.Warn("department members cache corrupt", zap.Int64("department_id", departmentID), zap.Error(err))
		return nil, false
	}
	return members, true
}

func (c *DepartmentMembers) store(ctx context.Context, departmentID int64, members []domain.User) {
	if c.redis == nil || c.redis.Client == nil || c.ttl <= 0 {
		return
	}
	payload, err := json.Marshal(members)
	if err != nil {
		return
	}
	if err := c.redis.Client.Set(ctx, membersKey(departmentID), payload, c.ttl).Err(); err != nil {
		c.logger.Warn("department members cache store failed", zap.Int64("department_id", departmentID), zap.Error(err))
	}
}
