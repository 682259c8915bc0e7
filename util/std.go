package util

import (
	"math"

	"github.com/pkg/errors"
)

// ErrOverflow 累加偏移/长度时发生int64溢出.
var ErrOverflow = errors.New("arithmetic overflow")

// CheckedAdd 返回 a+b, 结果溢出int64时返回 ErrOverflow 而不是回绕.
func CheckedAdd(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, errors.Wrapf(ErrOverflow, "%d + %d", a, b)
	}
	return a + b, nil
}

// IsPowerOfTwo 判断 v 是否为2的幂.
func IsPowerOfTwo(v int64) bool {
	return v > 0 && v&(v-1) == 0
}

// AlignDown 将 v 向下对齐到 alignment(必须为2的幂).
func AlignDown(v, alignment int64) int64 {
	return v &^ (alignment - 1)
}

// AlignUp 将 v 向上对齐到 alignment(必须为2的幂).
func AlignUp(v, alignment int64) int64 {
	return (v + alignment - 1) &^ (alignment - 1)
}

// RoundUp 将 v 向上取整到 interval 的整数倍, interval 不要求为2的幂.
func RoundUp(v, interval int64) int64 {
	if interval <= 0 {
		return v
	}
	if r := v % interval; r != 0 {
		return v + interval - r
	}
	return v
}

func Min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
