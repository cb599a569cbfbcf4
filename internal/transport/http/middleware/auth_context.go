package middleware

import "context"

type ctxKey string

const (
	ctxAccountID ctxKey = "account_id"
	ctxRole      ctxKey = "role"
)

func WithAccount(ctx context.Context, accountID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxAccountID, accountID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func AccountIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxAccountID).(string)
	return v, ok && v != ""
}

func RoleFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxRole).(string)
	return v, ok && v != ""
}
