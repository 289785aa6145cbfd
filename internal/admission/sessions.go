package admission

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Registry tracks active gaming sessions and tournament participation.
// Every operation is best effort: on store failure it logs and returns
// neutral values. The registry enriches the decider's input; it never
// denies anything.
type Registry struct {
	store         Store
	logger        *zap.Logger
	sessionTTL    time.Duration
	tournamentTTL time.Duration
	timeout       time.Duration

	now func() time.Time
}

// NewRegistry constructs a session registry over the given store.
func NewRegistry(store Store, logger *zap.Logger, sessionTTL, tournamentTTL, timeout time.Duration) *Registry {
	if sessionTTL <= 0 {
		sessionTTL = 300 * time.Second
	}
	if tournamentTTL <= 0 {
		tournamentTTL = 3600 * time.Second
	}
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	return &Registry{
		store:         store,
		logger:        logger.Named("session-registry"),
		sessionTTL:    sessionTTL,
		tournamentTTL: tournamentTTL,
		timeout:       timeout,
		now:           time.Now,
	}
}

func sessionKey(userID string) string { return sessionPrefix + "session:" + userID }

func tournamentKey(userID, tournamentID string) string {
	return sessionPrefix + "tournament:" + userID + ":" + tournamentID
}

// RecordGamingSession upserts the user's session record, refreshing its TTL.
// A user who stops playing loses the record (and the enhanced quota that
// comes with it) within the session TTL.
func (r *Registry) RecordGamingSession(ctx context.Context, userID string, class EndpointClass, gctx GamingContext) {
	if userID == "" {
		return
	}
	now := r.now()
	record := SessionRecord{
		UserID:          userID,
		StartTime:       now,
		EndpointClass:   class,
		TournamentMode:  gctx.TournamentMode,
		CompetitiveMode: gctx.CompetitiveMode,
		ExpiresAt:       now.Add(r.sessionTTL),
	}
	// Preserve the original start time across refreshes.
	if existing, ok := r.GetGamingSession(ctx, userID); ok {
		record.StartTime = existing.StartTime
	}

	data, err := json.Marshal(record)
	if err != nil {
		r.logger.Warn("failed to encode session record", zap.String("principal", userID), zap.Error(err))
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.store.SetEx(opCtx, sessionKey(userID), data, r.sessionTTL); err != nil {
		r.logger.Warn("failed to record gaming session",
			zap.String("principal", userID), zap.String("class", string(class)), zap.Error(err))
	}
}

// GetGamingSession returns the user's active session record, if any.
func (r *Registry) GetGamingSession(ctx context.Context, userID string) (*SessionRecord, bool) {
	if userID == "" {
		return nil, false
	}
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := r.store.Get(opCtx, sessionKey(userID))
	if err != nil {
		if err != ErrNotFound {
			r.logger.Warn("failed to read gaming session", zap.String("principal", userID), zap.Error(err))
		}
		return nil, false
	}
	var record SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		r.logger.Warn("corrupt session record, dropping", zap.String("principal", userID), zap.Error(err))
		_ = r.store.Delete(ctx, sessionKey(userID))
		return nil, false
	}
	return &record, true
}

// MarkTournamentParticipant records (and refreshes) the user's participation
// in a tournament.
func (r *Registry) MarkTournamentParticipant(ctx context.Context, userID, tournamentID string) {
	if userID == "" || tournamentID == "" {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.store.SetEx(opCtx, tournamentKey(userID, tournamentID), []byte("1"), r.tournamentTTL); err != nil {
		r.logger.Warn("failed to mark tournament participant",
			zap.String("principal", userID), zap.String("tournament", tournamentID), zap.Error(err))
	}
}

// IsTournamentParticipant reports whether the user is a confirmed
// participant of the tournament. Store failure reads as "not a participant".
func (r *Registry) IsTournamentParticipant(ctx context.Context, userID, tournamentID string) bool {
	if userID == "" || tournamentID == "" {
		return false
	}
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ok, err := r.store.Exists(opCtx, tournamentKey(userID, tournamentID))
	if err != nil {
		r.logger.Warn("failed to check tournament participation",
			zap.String("principal", userID), zap.String("tournament", tournamentID), zap.Error(err))
		return false
	}
	return ok
}
