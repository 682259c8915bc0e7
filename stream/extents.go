package stream

import (
	"sort"

	"github.com/kisun-bit/imgstream/util"
)

// extent 一个子对象及其在组合地址空间中的累计结束偏移(不含).
type extent[T any] struct {
	end   int64
	child T
}

// extentList 按累计结束偏移严格递增排列的子对象表. 只支持追加.
type extentList[T any] struct {
	items []extent[T]
}

func (l *extentList[T]) count() int {
	return len(l.items)
}

// length 组合后的逻辑长度, 即最后一项的累计结束偏移.
func (l *extentList[T]) length() int64 {
	if len(l.items) == 0 {
		return 0
	}
	return l.items[len(l.items)-1].end
}

// add 在末尾追加长度为 size 的子对象. size 为0时不登记.
func (l *extentList[T]) add(child T, size int64) (bool, error) {
	if size <= 0 {
		return false, nil
	}
	end, err := util.CheckedAdd(l.length(), size)
	if err != nil {
		return false, err
	}
	l.items = append(l.items, extent[T]{end: end, child: child})
	return true, nil
}

// find 返回第一个累计结束偏移严格大于 pos 的项的下标, 不存在时返回 count().
// pos 恰好落在边界上时选中下一项.
func (l *extentList[T]) find(pos int64) int {
	return sort.Search(len(l.items), func(i int) bool {
		return l.items[i].end > pos
	})
}

// start 返回第 i 项在组合地址空间中的起始偏移.
func (l *extentList[T]) start(i int) int64 {
	if i <= 0 {
		return 0
	}
	return l.items[i-1].end
}

func (l *extentList[T]) size(i int) int64 {
	return l.items[i].end - l.start(i)
}

func (l *extentList[T]) children() []T {
	out := make([]T, len(l.items))
	for i, it := range l.items {
		out[i] = it.child
	}
	return out
}
