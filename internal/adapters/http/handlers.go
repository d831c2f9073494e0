package http

import (
	"net/http"

	"github.com/dkeye/callrelay/internal/app"
	"github.com/gin-gonic/gin"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type StatsResponse struct {
	Registered int `json:"registered"`
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func handleStats(reg *app.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, StatsResponse{Registered: reg.Len()})
	}
}
