package tinylink

import (
	"crypto/rand"
	"fmt"
)

// 短码字母表：小写 base36。
// 查找不区分大小写，所以生成侧干脆不用大写，码空间按 36^n 计算：
// 6 位（登录用户）约 2.2e9，10 位（匿名）约 3.6e15。
const codeAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewCode 生成指定长度的随机短码。
// 随机生成不保证全局唯一：唯一性由数据库的唯一索引做最终裁决，
// 撞车时由调用方重试。
func NewCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid code length %d", length)
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate short code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
