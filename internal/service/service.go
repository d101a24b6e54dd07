// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"variantenbaum-go/internal/apperr"
	"variantenbaum-go/pkg/kafka"
	"variantenbaum-go/pkg/lock"
	"variantenbaum-go/pkg/log"
)

// notFound 把 gorm.ErrRecordNotFound 转换为 apperr.ErrNotFound，其他错误原样返回。
func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(format, args...)
	}
	return err
}

func apperrIsNotFound(err error) bool {
	return errors.Is(err, apperr.ErrNotFound)
}

// writeGuard 串行化同一产品族的结构写入，并在提交后发布变更事件。
type writeGuard struct {
	locker    lock.Locker
	publisher kafka.Publisher
	now       func() time.Time
}

func newWriteGuard(locker lock.Locker, publisher kafka.Publisher) writeGuard {
	if locker == nil {
		locker = lock.NewLocalLocker(10 * time.Second)
	}
	if publisher == nil {
		publisher = kafka.NoopPublisher{}
	}
	return writeGuard{locker: locker, publisher: publisher, now: time.Now}
}

// treeGateKey 是全树重建持有的闸门锁。结构写入在获取产品族锁前先穿过闸门，
// 重建持有闸门并逐个获取所有产品族锁，从而排斥所有写入。
const treeGateKey = "tree:gate"

func (g writeGuard) acquire(ctx context.Context, key string) (func(), error) {
	release, err := g.locker.Acquire(ctx, key)
	if err != nil {
		log.Warnf("[WriteGuard] 获取锁失败, key: %s, error: %v", key, err)
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	return release, nil
}

// withFamily 在持有产品族锁期间执行 fn。
func (g writeGuard) withFamily(ctx context.Context, family string, fn func() error) error {
	gate, err := g.acquire(ctx, treeGateKey)
	if err != nil {
		return err
	}
	gate()

	release, err := g.acquire(ctx, "family:"+family)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// withTree 持有闸门和 families 返回的全部产品族锁执行 fn。
// families 在获得闸门之后调用，此后不会再有写入进入。
func (g writeGuard) withTree(ctx context.Context, families func() ([]string, error), fn func() error) error {
	gate, err := g.acquire(ctx, treeGateKey)
	if err != nil {
		return err
	}
	defer gate()

	keys, err := families()
	if err != nil {
		return err
	}
	keys = sortedDistinct(keys)
	for _, k := range keys {
		release, err := g.acquire(ctx, "family:"+k)
		if err != nil {
			return err
		}
		defer release()
	}
	return fn()
}

func (g writeGuard) emit(ctx context.Context, ev kafka.ChangeEvent) {
	if ev.At.IsZero() {
		ev.At = g.now()
	}
	g.publisher.Publish(ctx, ev)
}

// sortedDistinct 去掉空值和重复值后排序。
func sortedDistinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func sortIDs(ids []uint) []uint {
	out := append([]uint(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func containsID(ids []uint, id uint) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
