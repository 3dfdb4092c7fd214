// Package store records live session lifecycle and transcripts in Redis.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/room4-2/auralive/session"
)

const activeSessionsKey = "active_sessions"

func sessionKey(id string) string    { return "session:" + id }
func transcriptKey(id string) string { return "transcript:" + id }

// Recorder implements session.Recorder on top of a Redis client.
type Recorder struct {
	client *redis.Client
	limit  int
	ttl    time.Duration
}

var _ session.Recorder = (*Recorder)(nil)

// Connect opens a client and checks it with a ping. Callers treat an error
// as "run without persistence".
func Connect(ctx context.Context, addr, password string, limit int, ttl time.Duration) (*Recorder, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis unavailable at %s: %w", addr, err)
	}
	return New(client, limit, ttl), nil
}

// New wraps an existing client. Transcript lists are trimmed to limit lines
// and every key expires ttl after its last write.
func New(client *redis.Client, limit int, ttl time.Duration) *Recorder {
	if limit <= 0 {
		limit = session.DefaultTranscriptLimit
	}
	return &Recorder{client: client, limit: limit, ttl: ttl}
}

// SessionStarted stores the session hash and marks it active.
func (r *Recorder) SessionStarted(ctx context.Context, id string, at time.Time) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey(id), map[string]interface{}{
			"status":     "active",
			"started_at": at.Format(time.RFC3339),
		})
		pipe.SAdd(ctx, activeSessionsKey, id)
		r.expire(ctx, pipe, sessionKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record session start: %w", err)
	}
	return nil
}

// TranscriptAppended pushes the line as JSON and trims the list.
func (r *Recorder) TranscriptAppended(ctx context.Context, id string, line session.Line) error {
	data, err := sonic.Marshal(line)
	if err != nil {
		return fmt.Errorf("failed to encode transcript line: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, transcriptKey(id), data)
		pipe.LTrim(ctx, transcriptKey(id), int64(-r.limit), -1)
		r.expire(ctx, pipe, transcriptKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record transcript: %w", err)
	}
	return nil
}

// SessionEnded closes the session hash and removes it from the active set.
func (r *Recorder) SessionEnded(ctx context.Context, id string, at time.Time, reason string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey(id), map[string]interface{}{
			"status":     "ended",
			"ended_at":   at.Format(time.RFC3339),
			"end_reason": reason,
		})
		pipe.SRem(ctx, activeSessionsKey, id)
		r.expire(ctx, pipe, sessionKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record session end: %w", err)
	}
	return nil
}

// Transcript reads back the stored lines for a session, oldest first.
func (r *Recorder) Transcript(ctx context.Context, id string) ([]session.Line, error) {
	raw, err := r.client.LRange(ctx, transcriptKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}

	lines := make([]session.Line, 0, len(raw))
	for _, item := range raw {
		var line session.Line
		if err := sonic.UnmarshalString(item, &line); err != nil {
			return nil, fmt.Errorf("failed to decode transcript line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// ActiveSessions lists ids of sessions that started and have not ended.
func (r *Recorder) ActiveSessions(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, activeSessionsKey).Result()
}

// Close releases the client.
func (r *Recorder) Close() error {
	return r.client.Close()
}

func (r *Recorder) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
}
