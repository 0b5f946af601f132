package auth

import "context"

// Identity 是请求携带的主体标识。
// 核心只把 OwnerID 当作不透明的属主键使用，不关心它背后是谁。
type Identity struct {
	OwnerID string
	Role    string
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func GetIdentity(ctx context.Context) (Identity, bool) {
	v := ctx.Value(identityKey{})
	id, ok := v.(Identity)
	return id, ok
}
