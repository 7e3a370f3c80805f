// Package cache 是读路径前的缓存层。
//
// 每个缓存项除了 (视图类型, 范围主体, 日期范围或 ID) 之外，还绑定一组标签。
// 缓存 key 中包含这些标签当前的版本号，写操作通过递增标签版本号使相关缓存全部失效，
// 不需要逐个删除 key，也不会因为并发的回填写入旧数据而读到脏值。
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/metrics"
)

type Kind string

const (
	KindCapacity Kind = "capacity"
	KindSlots    Kind = "slots"
	KindShifts   Kind = "shifts"
	KindCalendar Kind = "calendar"
)

func TagSlot(id int64) string {
	return "slot:" + strconv.FormatInt(id, 10)
}

func TagLocationDate(locationID int64, date string) string {
	return fmt.Sprintf("loc:%d:%s", locationID, date)
}

func TagWorker(id int64) string {
	return "worker:" + strconv.FormatInt(id, 10)
}

// DateTags 返回地点在 [from, to] 每一天的标签，日期格式为 YYYY-MM-DD
func DateTags(locationID int64, from, to time.Time) []string {
	var tags []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		tags = append(tags, TagLocationDate(locationID, d.Format("2006-01-02")))
	}
	return tags
}

type Key struct {
	Kind  Kind
	Scope string
	Range string
	Tags  []string
}

type TTLs struct {
	Short time.Duration // 班次、日历、容量
	Long  time.Duration // 时间段定义
}

type Layer struct {
	store  Store
	ttls   TTLs
	logger *slog.Logger
}

func NewLayer(store Store, ttls TTLs, logger *slog.Logger) *Layer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Layer{store: store, ttls: ttls, logger: logger}
}

func (l *Layer) ttl(kind Kind) time.Duration {
	if kind == KindSlots {
		return l.ttls.Long
	}
	return l.ttls.Short
}

func versionedKey(key Key, versions []int64) string {
	pairs := make([]string, len(key.Tags))
	for i, tag := range key.Tags {
		pairs[i] = tag + "=" + strconv.FormatInt(versions[i], 10)
	}
	sort.Strings(pairs)
	sum := xxhash.Sum64String(strings.Join(pairs, ","))
	return fmt.Sprintf("%s:%s:%s:%016x", key.Kind, key.Scope, key.Range, sum)
}

// Fetch 先查缓存，未命中时调用 load 并回填。缓存不可用时直接走 load，不影响读请求
func Fetch[T any](ctx context.Context, l *Layer, key Key, load func(ctx context.Context) (T, error)) (T, error) {
	kind := string(key.Kind)

	versions, err := l.store.TagVersions(ctx, key.Tags)
	if err != nil {
		metrics.CacheLookup(kind, "error")
		l.logger.Warn("读取缓存标签失败", slog.String("kind", kind), "error", err)
		return load(ctx)
	}
	k := versionedKey(key, versions)

	raw, ok, err := l.store.Get(ctx, k)
	if err != nil {
		metrics.CacheLookup(kind, "error")
		l.logger.Warn("读取缓存失败", slog.String("key", k), "error", err)
	}
	if ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			metrics.CacheLookup(kind, "hit")
			return v, nil
		}
	}
	metrics.CacheLookup(kind, "miss")

	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	raw, err = json.Marshal(v)
	if err != nil {
		l.logger.Warn("无法序列化缓存数据", slog.String("key", k), "error", err)
		return v, nil
	}
	if err := l.store.Set(ctx, k, raw, l.ttl(key.Kind)); err != nil {
		l.logger.Warn("写入缓存失败", slog.String("key", k), "error", err)
	}
	return v, nil
}

// Invalidate 递增标签版本号，所有绑定这些标签的缓存项（无论哪个角色的视图）同时失效。
// 失败时重试一次
func (l *Layer) Invalidate(ctx context.Context, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}
	err := l.store.BumpTags(ctx, tags)
	if err != nil {
		err = l.store.BumpTags(ctx, tags)
	}
	if err != nil {
		metrics.CacheInvalidation("failed")
		l.logger.Error("缓存失效失败", slog.Any("tags", tags), "error", err)
		return err
	}
	metrics.CacheInvalidation("ok")
	return nil
}
