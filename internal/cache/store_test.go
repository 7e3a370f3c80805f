package cache

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// recordingHook 记录流水线中的命令并直接返回，不连接真实的 redis
type recordingHook struct {
	mu   sync.Mutex
	cmds []redis.Cmder
}

func (h *recordingHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *recordingHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.cmds = append(h.cmds, cmd)
		return nil
	}
}

func (h *recordingHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.cmds = append(h.cmds, cmds...)
		return nil
	}
}

func (h *recordingHook) named(name string) []redis.Cmder {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []redis.Cmder
	for _, cmd := range h.cmds {
		if cmd.Name() == name {
			out = append(out, cmd)
		}
	}
	return out
}

func newRecordingClient(t *testing.T) (*redis.Client, *recordingHook) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = rdb.Close() })
	hook := &recordingHook{}
	rdb.AddHook(hook)
	return rdb, hook
}

func TestRedisStore_BumpTagsSetsExpiry(t *testing.T) {
	rdb, hook := newRecordingClient(t)
	s := NewRedisStore(rdb, "shift:cache", 24*time.Hour)

	require.NoError(t, s.BumpTags(context.Background(), []string{TagWorker(3), TagLocationDate(10, "2026-03-02")}))

	incrs := hook.named("incr")
	expires := hook.named("expire")
	require.Len(t, incrs, 2)
	require.Len(t, expires, 2)
	for i, cmd := range expires {
		args := cmd.Args()
		require.Equal(t, incrs[i].Args()[1], args[1])
		require.Equal(t, int64((24 * time.Hour).Seconds()), args[2])
	}
	require.Equal(t, "shift:cache:tag:"+TagWorker(3), expires[0].Args()[1])
}

func TestRedisStore_BumpTagsWithoutTTL(t *testing.T) {
	rdb, hook := newRecordingClient(t)
	s := NewRedisStore(rdb, "shift:cache", 0)

	require.NoError(t, s.BumpTags(context.Background(), []string{TagSlot(1)}))

	require.Len(t, hook.named("incr"), 1)
	require.Empty(t, hook.named("expire"))
}
