package handlers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/studyforge/studyforge/internal/common"
	"github.com/studyforge/studyforge/internal/config"
	"github.com/studyforge/studyforge/internal/generation"
	"github.com/studyforge/studyforge/internal/httpapi/middleware"
	"github.com/studyforge/studyforge/internal/store/redisstore"
)

type Handler struct {
	DB     *gorm.DB
	Cfg    config.Config
	Cache  *redisstore.Store
	GenSvc *generation.Service
}

func NewHandler(db *gorm.DB, cfg config.Config, cache *redisstore.Store, genSvc *generation.Service) *Handler {
	return &Handler{DB: db, Cfg: cfg, Cache: cache, GenSvc: genSvc}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}
