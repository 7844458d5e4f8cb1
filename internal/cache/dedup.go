package cache

import (
	"context"
	"fmt"
	"time"
)

func eventKey(eventID string) string {
	return "billing:event:" + eventID
}

// MarkEvent атомарно ставит метку обработки события.
// Возвращает false, если событие с таким ID уже обрабатывалось.
func (c *Cache) MarkEvent(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	const op = "cache.MarkEvent"
	acquired, err := c.Db.SetNX(ctx, eventKey(eventID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return acquired, nil
}

// UnmarkEvent снимает метку, чтобы повторная доставка события была обработана.
func (c *Cache) UnmarkEvent(ctx context.Context, eventID string) error {
	const op = "cache.UnmarkEvent"
	if err := c.Db.Del(ctx, eventKey(eventID)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
