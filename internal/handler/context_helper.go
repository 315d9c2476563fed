package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coursemart-api/internal/middleware"
	"github.com/noah-isme/coursemart-api/internal/models"
	"github.com/noah-isme/coursemart-api/internal/service"
)

func principalFrom(c *gin.Context) models.Principal {
	return middleware.Principal(c)
}

func clientMeta(c *gin.Context) service.ClientMeta {
	return service.ClientMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}

func queryInt(c *gin.Context, key string) int {
	value, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return value
}

func redirectMeta(decision models.AccessDecision) map[string]interface{} {
	if decision.Redirect == "" {
		return map[string]interface{}{"reason": decision.Reason}
	}
	return map[string]interface{}{"reason": decision.Reason, "redirect": decision.Redirect}
}
