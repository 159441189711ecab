package directory

import (
	"chat-connect/domain/chat"
	"chat-connect/infrastructure/cache"
	"chat-connect/mocks"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type memoryCache struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", cache.ErrMiss
	}
	return v, nil
}

func (m *memoryCache) Set(_ context.Context, key string, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memoryCache) Del(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return int64(len(keys)), nil
}

func TestOpenDirectory(t *testing.T) {
	req := require.New(t)

	found, err := OpenDirectory{}.Lookup(context.Background(), []chat.ParticipantID{"alice"})
	req.NoError(err)
	req.Equal("alice", found["alice"].DisplayName)

	exists, err := OpenDirectory{}.Exists(context.Background(), "")
	req.NoError(err)
	req.False(exists)
}

func TestCachedDirectory_Lookup(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockParticipantDirectory(ctrl)
	alice := chat.Participant{ID: "alice", DisplayName: "Alice", AvatarURL: "https://cdn/a.png"}

	// Given the inner directory is asked once for alice
	inner.EXPECT().Lookup(gomock.Any(), []chat.ParticipantID{"alice", "ghost"}).
		Return(map[chat.ParticipantID]chat.Participant{"alice": alice}, nil).Times(1)
	d := NewCachedDirectory(slog.Default(), inner, &memoryCache{values: map[string]string{}}, time.Minute)

	// When looking up twice
	first, err := d.Lookup(context.Background(), []chat.ParticipantID{"alice", "ghost"})
	req.NoError(err)
	req.Equal(alice, first["alice"])
	req.NotContains(first, chat.ParticipantID("ghost"))

	// Then the second lookup is served from the cache
	second, err := d.Lookup(context.Background(), []chat.ParticipantID{"alice"})
	req.NoError(err)
	req.Equal(alice, second["alice"])

	exists, err := d.Exists(context.Background(), "alice")
	req.NoError(err)
	req.True(exists)
}

func TestCachedDirectory_ExistsUnknown(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	inner := mocks.NewMockParticipantDirectory(ctrl)
	inner.EXPECT().Lookup(gomock.Any(), []chat.ParticipantID{"ghost"}).
		Return(map[chat.ParticipantID]chat.Participant{}, nil).Times(2)
	d := NewCachedDirectory(slog.Default(), inner, &memoryCache{values: map[string]string{}}, time.Minute)

	// Unknown participants are never cached
	for i := 0; i < 2; i++ {
		exists, err := d.Exists(context.Background(), "ghost")
		req.NoError(err)
		req.False(exists)
	}
}

func TestNormalizeDSN(t *testing.T) {
	req := require.New(t)
	req.Equal("postgresql://u:p@h/db", normalizeDSN(" postgresql+asyncpg://u:p@h/db "))
	req.Equal("postgres://u:p@h/db", normalizeDSN("postgres+pgx://u:p@h/db"))
}
