package testgateway

import (
	"html/template"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

type envelope struct {
	Data gin.H `json:"data"`
}

var pageTmpl = template.Must(template.New("page").Parse(`<!doctype html>
<html><head><title>Test payment</title></head><body>
<h1>Test payment</h1>
<p>Amount: {{.Amount}}</p>
<ul>
{{range .Buttons}}<li><a href="{{$.Base}}/handle?requestId={{$.RequestID}}&amp;button={{.}}">{{.}}</a></li>
{{end}}</ul>
</body></html>`))

func formParams(c *gin.Context) url.Values {
	_ = c.Request.ParseForm()
	return c.Request.PostForm
}

// RegisterRoutes mounts the echo service on r unless it is disabled or has no secret.
func RegisterRoutes(r gin.IRouter, s *Service) {
	if s == nil || !s.Enabled() {
		return
	}
	g := r.Group(BasePath)

	g.POST("/init", func(c *gin.Context) {
		id, paymentURL, err := s.Init(formParams(c))
		if err != nil {
			c.JSON(http.StatusOK, envelope{Data: gin.H{"error": err.Error()}})
			return
		}
		c.JSON(http.StatusOK, envelope{Data: gin.H{"requestId": id, "paymentUrl": paymentURL}})
	})

	g.POST("/status", func(c *gin.Context) {
		status, err := s.Status(formParams(c))
		if err != nil {
			c.JSON(http.StatusOK, envelope{Data: gin.H{"error": err.Error()}})
			return
		}
		c.JSON(http.StatusOK, envelope{Data: gin.H{"status": status}})
	})

	g.GET("/handle", func(c *gin.Context) {
		requestID := c.Query("requestId")
		button := c.Query("button")
		if button == "" {
			sess, ok := s.get(requestID)
			if !ok {
				c.String(http.StatusNotFound, "unknown request")
				return
			}
			c.Status(http.StatusOK)
			c.Header("Content-Type", "text/html; charset=utf-8")
			_ = pageTmpl.Execute(c.Writer, map[string]any{
				"Amount":    sess.Amount,
				"Base":      s.baseURL + BasePath,
				"RequestID": requestID,
				"Buttons":   []string{StatusSuccess, StatusFailure, StatusCancel, "notify"},
			})
			return
		}
		target, err := s.Handle(c.Request.Context(), requestID, button)
		if err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		c.Redirect(http.StatusFound, target)
	})
}

var Module = fx.Options(
	fx.Provide(NewService),
)
