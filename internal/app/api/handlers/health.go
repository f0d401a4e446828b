package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/fatflowers/finepay/pkg/response"
)

// @Summary      Health check
// @Description  Returns service status. The database is pinged when one is configured.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /healthz [get]
func Healthz(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(c.Request.Context())
			}
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, response.ErrorT(response.APIResponseCodeError, map[string]string{"status": "database unavailable"}))
				return
			}
		}
		c.JSON(http.StatusOK, response.OKT(map[string]string{"status": "ok"}))
	}
}

func RegisterHealthRoutes(r gin.IRouter, db *gorm.DB) {
	r.GET("/healthz", Healthz(db))
}
