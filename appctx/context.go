// Package appctx holds the request-scoped context keys shared by config and utils.
package appctx

import "context"

type ContextKey string

func (c ContextKey) String() string { return string(c) }

const (
	ContextKeyToken         ContextKey = "Token"
	ContextKeyBusinessId    ContextKey = "BusinessId"
	ContextKeyUserId        ContextKey = "UserId"
	ContextKeyUserName      ContextKey = "UserName"
	ContextKeyCorrelationId ContextKey = "CorrelationId"
	// bool; disables business_id scoping in the tenant guard plugin
	ContextKeySkipTenantScope ContextKey = "SkipTenantScope"
)

// Value returns the value stored under key when it has type T.
func Value[T any](ctx context.Context, key ContextKey) (T, bool) {
	v, ok := ctx.Value(key).(T)
	return v, ok
}

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	return Value[string](ctx, key)
}

func GetInt(ctx context.Context, key ContextKey) (int, bool) {
	return Value[int](ctx, key)
}

// Flag is false unless key holds a true bool.
func Flag(ctx context.Context, key ContextKey) bool {
	v, _ := Value[bool](ctx, key)
	return v
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}
