package middlewares

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/ledger_backend/utils"
)

// SessionMiddleware copies the company and actor headers set by the host application into the request context.
// Authentication happens upstream.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyId := strings.TrimSpace(c.GetHeader("x-company-id"))
		if companyId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "x-company-id header is required"})
			c.Abort()
			return
		}

		ctx := utils.SetCompanyIdInContext(c.Request.Context(), companyId)
		if v := strings.TrimSpace(c.GetHeader("x-actor-id")); v != "" {
			actorId, err := strconv.Atoi(v)
			if err != nil || actorId < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "x-actor-id must be a non-negative integer"})
				c.Abort()
				return
			}
			ctx = utils.SetActorIdInContext(ctx, actorId)
		}
		if name := strings.TrimSpace(c.GetHeader("x-actor-name")); name != "" {
			ctx = utils.SetActorNameInContext(ctx, name)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
