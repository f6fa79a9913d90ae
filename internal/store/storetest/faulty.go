// Package storetest provides Store doubles for exercising failure paths.
package storetest

import (
	"context"
	"errors"
	"sync"

	"github.com/jeanpaul/fitcache/internal/store"
)

// ErrInjected is returned by Faulty for every injected failure.
var ErrInjected = errors.New("storetest: injected failure")

// Op names a Store method.
type Op string

const (
	OpGet         Op = "get"
	OpSet         Op = "set"
	OpRemove      Op = "remove"
	OpListKeys    Op = "list"
	OpMultiRemove Op = "multi_remove"
)

// Faulty wraps a Store and fails selected operations on demand.
type Faulty struct {
	store.Store

	mu    sync.Mutex
	fails map[Op]map[string]bool // "" key fails every call of that op
	after map[Op]int
	calls map[Op]int
}

// NewFaulty wraps inner.
func NewFaulty(inner store.Store) *Faulty {
	return &Faulty{
		Store: inner,
		fails: map[Op]map[string]bool{},
		after: map[Op]int{},
		calls: map[Op]int{},
	}
}

// Fail makes op fail for the given keys, or for every key when none are given.
func (f *Faulty) Fail(op Op, keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails[op] == nil {
		f.fails[op] = map[string]bool{}
	}
	if len(keys) == 0 {
		f.fails[op][""] = true
		return
	}
	for _, k := range keys {
		f.fails[op][k] = true
	}
}

// FailAfter lets the next n calls of op through and fails every call after.
func (f *Faulty) FailAfter(op Op, n int) {
	f.mu.Lock()
	f.after[op] = f.calls[op] + n
	f.mu.Unlock()
}

// Heal clears every injected failure.
func (f *Faulty) Heal() {
	f.mu.Lock()
	f.fails = map[Op]map[string]bool{}
	f.after = map[Op]int{}
	f.mu.Unlock()
}

// Calls reports how many times op reached the wrapper.
func (f *Faulty) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Faulty) hit(op Op, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if limit, ok := f.after[op]; ok && f.calls[op] > limit {
		return ErrInjected
	}
	if f.fails[op][""] || (key != "" && f.fails[op][key]) {
		return ErrInjected
	}
	return nil
}

func (f *Faulty) Get(ctx context.Context, key string) (string, bool, error) {
	if err := f.hit(OpGet, key); err != nil {
		return "", false, err
	}
	return f.Store.Get(ctx, key)
}

func (f *Faulty) Set(ctx context.Context, key, value string) error {
	if err := f.hit(OpSet, key); err != nil {
		return err
	}
	return f.Store.Set(ctx, key, value)
}

func (f *Faulty) Remove(ctx context.Context, key string) error {
	if err := f.hit(OpRemove, key); err != nil {
		return err
	}
	return f.Store.Remove(ctx, key)
}

func (f *Faulty) ListKeys(ctx context.Context) ([]string, error) {
	if err := f.hit(OpListKeys, ""); err != nil {
		return nil, err
	}
	return f.Store.ListKeys(ctx)
}

func (f *Faulty) MultiRemove(ctx context.Context, keys []string) error {
	if err := f.hit(OpMultiRemove, ""); err != nil {
		return err
	}
	return f.Store.MultiRemove(ctx, keys)
}
