package handler

import (
	"context"
	"net/http"
	"time"

	"restopos/internal/infra"
	"restopos/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// MailStatus is the part of infra.Mailer the health check reports on.
type MailStatus interface {
	Configured() bool
	BreakerState() infra.CBState
}

// Health returns a JSON health check response.
// Checks DB and Redis connectivity; never exposes credentials or internals.
// Mail problems and dead letters are reported but do not fail the check.
func Health(db *gorm.DB, rdb *redis.Client, mail MailStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		dbStatus := "connected"
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(ctx) != nil {
			dbStatus = "error"
		}

		redisStatus := "connected"
		if rdb.Ping(ctx).Err() != nil {
			redisStatus = "error"
		}

		mailStatus := "disabled"
		if mail.Configured() {
			mailStatus = mail.BreakerState().String()
		}

		body := gin.H{
			"db":    dbStatus,
			"redis": redisStatus,
			"mail":  mailStatus,
		}
		if redisStatus == "connected" {
			if n, err := worker.DLQLength(ctx, rdb, worker.QueueClosingReport); err == nil {
				body["dead_letters"] = n
			}
		}

		status := http.StatusOK
		if dbStatus != "connected" || redisStatus != "connected" {
			status = http.StatusServiceUnavailable
		}
		body["ok"] = status == http.StatusOK
		c.JSON(status, body)
	}
}
