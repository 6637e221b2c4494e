package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/studyforge/studyforge/internal/common"
	"github.com/studyforge/studyforge/internal/config"
	"github.com/studyforge/studyforge/internal/generation"
	"github.com/studyforge/studyforge/internal/httpapi/handlers"
	"github.com/studyforge/studyforge/internal/httpapi/middleware"
	"github.com/studyforge/studyforge/internal/store/redisstore"
)

func NewRouter(db *gorm.DB, cfg config.Config, cache *redisstore.Store, genSvc *generation.Service) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(db, cfg, cache, genSvc)

	r.GET("/ping", h.Ping)

	// users
	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	// generation pipeline (JWT required)
	authGroup.POST("/generation/:kind/jobs", h.SubmitJob)
	authGroup.GET("/generation/:kind/jobs/:job_id", h.GetJob)
	authGroup.POST("/generation/:kind/jobs/:job_id/regenerate", h.RegenerateJob)
	authGroup.GET("/generation/:kind/jobs/:job_id/download", h.DownloadJob)
	authGroup.DELETE("/generation/:kind/jobs/:job_id", h.DeleteJob)
	authGroup.GET("/generation/activities", h.ListActivities)

	return r
}
