package cache

import "context"

// ClearUserCache invalidates every key carrying the user's "user_id:<id>:" segment.
func (s *Store) ClearUserCache(ctx context.Context, userID string) (InvalidationResult, error) {
	return s.ClearPattern(ctx, "*"+escapeGlob(userSegment(userID))+":*")
}

// ClearModelCache invalidates every key under "<model>:".
func (s *Store) ClearModelCache(ctx context.Context, model string) (InvalidationResult, error) {
	return s.ClearPattern(ctx, escapeGlob(model)+":*")
}
