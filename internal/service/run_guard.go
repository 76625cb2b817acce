package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"storesync_v1/internal/model"
)

var ErrStoreBusy = errors.New("该店铺的同步正在运行")

// RunGuard 每个店铺同一时间只允许一个处理器运行
// 按需同步 (订单/成员关系内联同步商品、分类) 在持锁的运行内执行，不再单独加锁
// 进程内互斥，不提供跨进程锁
type RunGuard struct {
	mu      sync.Mutex
	holders map[int64]*guardHolder
}

type guardHolder struct {
	entity model.EntityType
	done   chan struct{}
}

func NewRunGuard() *RunGuard {
	return &RunGuard{holders: make(map[int64]*guardHolder)}
}

// TryAcquire 店铺空闲时占用并返回释放函数，否则立即返回 false
func (g *RunGuard) TryAcquire(entity model.EntityType, storeID int64) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.holders[storeID]; busy {
		return nil, false
	}
	return g.hold(entity, storeID), true
}

// Acquire 等待店铺空闲后占用
// 同一实体已在运行时不等待，直接返回 ErrStoreBusy
func (g *RunGuard) Acquire(ctx context.Context, entity model.EntityType, storeID int64) (func(), error) {
	for {
		g.mu.Lock()
		h, busy := g.holders[storeID]
		if !busy {
			release := g.hold(entity, storeID)
			g.mu.Unlock()
			return release, nil
		}
		g.mu.Unlock()

		if h.entity == entity {
			return nil, fmt.Errorf("%w: %s/%d", ErrStoreBusy, entity, storeID)
		}
		select {
		case <-h.done:
		case <-ctx.Done():
			return nil, fmt.Errorf("等待店铺 %d 的 %s 同步结束: %w", storeID, h.entity, ctx.Err())
		}
	}
}

// hold 调用方需持有 g.mu
func (g *RunGuard) hold(entity model.EntityType, storeID int64) func() {
	h := &guardHolder{entity: entity, done: make(chan struct{})}
	g.holders[storeID] = h
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			if g.holders[storeID] == h {
				delete(g.holders, storeID)
			}
			g.mu.Unlock()
			close(h.done)
		})
	}
}

// Holder 当前占用店铺的实体
func (g *RunGuard) Holder(storeID int64) (model.EntityType, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.holders[storeID]
	if !ok {
		return "", false
	}
	return h.entity, true
}
