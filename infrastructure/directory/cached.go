package directory

import (
	"chat-connect/contract"
	"chat-connect/domain/chat"
	"chat-connect/infrastructure/cache"
	"context"
	"encoding/json"
	goerrors "errors"
	"log/slog"
	"time"
)

const keyPrefix = "connect:participant:"

type cachedParticipant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// CachedDirectory is a cache-aside decorator. Only known participants are
// cached; a cache failure falls back to the inner directory.
type CachedDirectory struct {
	log   *slog.Logger
	inner contract.ParticipantDirectory
	cache cache.Cache
	ttl   time.Duration
}

var _ contract.ParticipantDirectory = (*CachedDirectory)(nil)

func NewCachedDirectory(log *slog.Logger, inner contract.ParticipantDirectory, c cache.Cache, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{log: log, inner: inner, cache: c, ttl: ttl}
}

func (d *CachedDirectory) Lookup(ctx context.Context, ids []chat.ParticipantID) (map[chat.ParticipantID]chat.Participant, error) {
	out := make(map[chat.ParticipantID]chat.Participant, len(ids))
	var misses []chat.ParticipantID
	for _, id := range ids {
		if p, ok := d.get(ctx, id); ok {
			out[id] = p
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return out, nil
	}
	found, err := d.inner.Lookup(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, p := range found {
		out[id] = p
		d.set(ctx, p)
	}
	return out, nil
}

func (d *CachedDirectory) Exists(ctx context.Context, id chat.ParticipantID) (bool, error) {
	if _, ok := d.get(ctx, id); ok {
		return true, nil
	}
	found, err := d.inner.Lookup(ctx, []chat.ParticipantID{id})
	if err != nil {
		return false, err
	}
	p, ok := found[id]
	if ok {
		d.set(ctx, p)
	}
	return ok, nil
}

func (d *CachedDirectory) get(ctx context.Context, id chat.ParticipantID) (chat.Participant, bool) {
	raw, err := d.cache.Get(ctx, keyPrefix+string(id))
	if err != nil {
		if !goerrors.Is(err, cache.ErrMiss) {
			d.log.Warn("Directory cache read failed", "participant_id", id, "error", err)
		}
		return chat.Participant{}, false
	}
	var c cachedParticipant
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		d.log.Warn("Corrupted directory cache entry", "participant_id", id, "error", err)
		return chat.Participant{}, false
	}
	return chat.Participant{ID: chat.ParticipantID(c.ID), DisplayName: c.DisplayName, AvatarURL: c.AvatarURL}, true
}

func (d *CachedDirectory) set(ctx context.Context, p chat.Participant) {
	raw, err := json.Marshal(cachedParticipant{ID: string(p.ID), DisplayName: p.DisplayName, AvatarURL: p.AvatarURL})
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, keyPrefix+string(p.ID), string(raw), d.ttl); err != nil {
		d.log.Warn("Directory cache write failed", "participant_id", p.ID, "error", err)
	}
}
