package service

import "context"

type moduleKey struct{}

// WithModule returns a context identifying the calling module.
func WithModule(ctx context.Context, module string) context.Context {
	return context.WithValue(ctx, moduleKey{}, module)
}

// ModuleFrom returns the calling module carried by ctx, or "".
func ModuleFrom(ctx context.Context) string {
	m, _ := ctx.Value(moduleKey{}).(string)
	return m
}
