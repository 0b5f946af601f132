package tinylink

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var ErrInvalidURL = errors.New("invalid url")
var ErrInvalidAlias = errors.New("invalid alias")

// ValidateURL 校验目标 URL 的最小要求：
// - scheme 必须是 http/https
// - host 不能为空
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidURL
	}
	if strings.TrimSpace(u.Host) == "" {
		return ErrInvalidURL
	}
	return nil
}

// 别名在 CanonicalCode 之后校验，所以这里只允许小写。
var aliasRe = regexp.MustCompile(`^[a-z0-9]{3,32}$`)

var reservedCodes = map[string]struct{}{
	"api":     {},
	"healthz": {},
	"metrics": {},
	"favicon": {},
}

// ValidateAlias 校验用户自定义短码（传入前先 CanonicalCode）：
// - 仅允许字母/数字，长度 3~32
// - 禁止与站点已有路由前缀冲突
func ValidateAlias(alias string) error {
	if !aliasRe.MatchString(alias) {
		return ErrInvalidAlias
	}
	if _, ok := reservedCodes[alias]; ok {
		return ErrInvalidAlias
	}
	return nil
}
