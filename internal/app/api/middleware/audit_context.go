package middleware

import (
	"net"
	"net/http"
	"os"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/finepay/internal/app/service/audit"
	"github.com/fatflowers/finepay/pkg/config"
	"github.com/fatflowers/finepay/pkg/logctx"
	"github.com/fatflowers/finepay/pkg/tool"
)

const (
	auditRecorderKey = "auditRecorder"
	sessionIDKey     = "sid"
)

// SessionMiddleware keeps a cookie session so audit events of one browser share a session id.
func SessionMiddleware(cfg config.SessionConfig) gin.HandlerFunc {
	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return sessions.Sessions(cfg.Name, store)
}

// AuditContextMiddleware captures the request context for audit events and stores a recorder
// on gin.Context. It must run after SessionMiddleware.
func AuditContextMiddleware(svc *audit.Service, base *zap.SugaredLogger) gin.HandlerFunc {
	host, _ := os.Hostname()
	return func(c *gin.Context) {
		session := sessions.Default(c)
		sid, _ := session.Get(sessionIDKey).(string)
		if sid == "" {
			sid = tool.GenerateUUIDV7()
			session.Set(sessionIDKey, sid)
			if err := session.Save(); err != nil {
				logctx.FromGin(c, base).Warnw("session_save_failed", "err", err)
			}
		}
		c.Set(auditRecorderKey, svc.Recorder(audit.RequestContext{
			SessionID:  sid,
			ClientIP:   c.ClientIP(),
			ServerIP:   serverIP(c),
			ServerName: host,
			RequestURI: c.Request.RequestURI,
		}))
		c.Next()
	}
}

func serverIP(c *gin.Context) string {
	addr, ok := c.Request.Context().Value(http.LocalAddrContextKey).(net.Addr)
	if !ok {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// AuditRecorder returns the recorder stored by AuditContextMiddleware, or nil when the route
// does not record audit events.
func AuditRecorder(c *gin.Context) *audit.Recorder {
	if v, ok := c.Get(auditRecorderKey); ok {
		if rec, ok := v.(*audit.Recorder); ok {
			return rec
		}
	}
	return nil
}
