package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxAccountID ctxKey = iota
	ctxAPIKeyID
	ctxScopes
)

func WithIdentity(ctx context.Context, accountID, apiKeyID string, scopes []string) context.Context {
	ctx = context.WithValue(ctx, ctxAccountID, accountID)
	ctx = context.WithValue(ctx, ctxAPIKeyID, apiKeyID)
	ctx = context.WithValue(ctx, ctxScopes, scopes)
	return ctx
}

func AccountID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxAccountID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("account_id not in context")
}

func APIKeyID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxAPIKeyID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("api_key_id not in context")
}

func Scopes(ctx context.Context) ([]string, error) {
	v := ctx.Value(ctxScopes)
	if s, ok := v.([]string); ok {
		return s, nil
	}
	return nil, errors.New("scopes not in context")
}
