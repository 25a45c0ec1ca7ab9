package logger

import (
	"time"

	"go.uber.org/zap"
)

func RequestID(v string) zap.Field { return zap.String("request_id", v) }

func Method(v string) zap.Field { return zap.String("method", v) }

func Path(v string) zap.Field { return zap.String("path", v) }

func Status(v int) zap.Field { return zap.Int("status", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

func ClientIP(v string) zap.Field { return zap.String("client_ip", v) }

func TenantID(v string) zap.Field { return zap.String("tenant_id", v) }

func PrincipalID(v string) zap.Field { return zap.String("principal_id", v) }

func SessionID(v string) zap.Field { return zap.String("session_id", v) }

func Component(v string) zap.Field { return zap.String("component", v) }

// Err is zap.Error under the "error" key; nil errors produce a skipped field.
func Err(err error) zap.Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.Error(err)
}
