package authkernel

import "context"

type clientInfoContextKey struct{}
type tenantIDContextKey struct{}

// ClientInfo describes the caller of a request. The HTTP layer fills it
// from the connection and headers.
type ClientInfo struct {
	IP        string
	UserAgent string
	DeviceID  string
}

// WithClientInfo attaches the caller's network and device identity to ctx.
// The Engine uses it for audit events, fraud signals and device binding.
func WithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoContextKey{}, info)
}

// ClientInfoFromContext returns the attached ClientInfo, if any.
func ClientInfoFromContext(ctx context.Context) ClientInfo {
	if ctx == nil {
		return ClientInfo{}
	}
	info, _ := ctx.Value(clientInfoContextKey{}).(ClientInfo)
	return info
}

func withTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDContextKey{}, tenantID)
}

func tenantIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	tenantID, _ := ctx.Value(tenantIDContextKey{}).(string)
	return tenantID, tenantID != ""
}
