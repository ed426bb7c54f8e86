package router

import (
	"net/http"

	"github.com/3Eeeecho/go-docstore/internal/config"
	"github.com/3Eeeecho/go-docstore/internal/handlers"
	"github.com/3Eeeecho/go-docstore/internal/middlewares"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/services/share"
	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
)

// RouterConfig 包含初始化路由所需的所有依赖
type RouterConfig struct {
	Folders  *handlers.FolderHandler
	Files    *handlers.FileHandler
	Explorer *handlers.ExplorerHandler
	Shares   *handlers.ShareHandler
	JWT      config.JWTConfig
	Mode     string
}

func InitRouter(rc *RouterConfig) *gin.Engine {
	if rc.Mode != "" {
		gin.SetMode(rc.Mode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), middlewares.RequestLogger(), middlewares.IdempotencyKey())

	// Health Check 路由
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	// 公开的分享链接下载
	router.GET("/s/:token", rc.Shares.DownloadLink)

	v1 := router.Group("/api/v1")
	v1.Use(middlewares.AuthMiddleware(rc.JWT))

	folderGroup := v1.Group("/folders")
	{
		folderGroup.POST("", rc.Folders.CreateFolder)
		folderGroup.PUT("/:id/rename", rc.Folders.RenameFolder)
		folderGroup.PUT("/:id/move", rc.Folders.MoveFolder)
		folderGroup.DELETE("/:id", rc.Folders.DeleteFolder)
		folderGroup.POST("/:id/restore", rc.Folders.RestoreFolder)
		folderGroup.DELETE("/:id/purge", rc.Folders.PurgeFolder)
		folderGroup.GET("/:id/contents", rc.Folders.FolderContents)
		folderGroup.GET("/:id/download", rc.Folders.DownloadFolder)
	}

	fileGroup := v1.Group("/files")
	{
		fileGroup.POST("", rc.Files.UploadFile)
		fileGroup.PUT("/:id/content", rc.Files.ReplaceContent)
		fileGroup.PUT("/:id/rename", rc.Files.RenameFile)
		fileGroup.PUT("/:id/move", rc.Files.MoveFile)
		fileGroup.DELETE("/:id", rc.Files.DeleteFile)
		fileGroup.POST("/:id/restore", rc.Files.RestoreFile)
		fileGroup.DELETE("/:id/purge", rc.Files.PurgeFile)
		fileGroup.GET("/:id/download", rc.Files.DownloadFile)
		fileGroup.GET("/:id/versions", rc.Files.ListVersions)
		fileGroup.POST("/:id/versions/:version_id/restore", rc.Files.RestoreVersion)
		fileGroup.GET("/:id/links", rc.Shares.ListLinks)
	}

	v1.POST("/archive", rc.Explorer.DownloadSelection)

	explorerGroup := v1.Group("/explorer")
	{
		explorerGroup.GET("/my", rc.Explorer.MyFiles())
		explorerGroup.GET("/department", rc.Explorer.DepartmentFiles())
		explorerGroup.GET("/shared", rc.Explorer.SharedWithMe())
		explorerGroup.GET("/trash", rc.Explorer.Trash())
		explorerGroup.GET("/trash/:id", rc.Explorer.TrashFolder)
		explorerGroup.DELETE("/trash", rc.Explorer.EmptyTrash)
	}

	shareGroup := v1.Group("/shares")
	for _, kind := range []share.ResourceKind{share.ResourceFolder, share.ResourceFile} {
		g := shareGroup.Group("/" + string(kind) + "s")
		g.GET("/:id", rc.Shares.ListGrants(kind))
		g.PUT("/:id/users/:user_id", rc.Shares.ShareWithUser(kind))
		g.DELETE("/:id/users/:user_id", rc.Shares.RevokeUser(kind))
		g.DELETE("/:id/self", rc.Shares.RevokeSelf(kind))
		g.POST("/:id/department", rc.Shares.ShareToDepartment(kind))
	}

	linkGroup := v1.Group("/links")
	{
		linkGroup.POST("", rc.Shares.CreateLink)
		linkGroup.DELETE("/:id", rc.Shares.RevokeLink)
	}

	router.NoRoute(func(c *gin.Context) {
		xerr.Error(c, http.StatusNotFound, xerr.NotFoundCode, "Route not found")
	})

	return router
}

// WithCORS 没有配置来源时不加 CORS 头
func WithCORS(h http.Handler, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		return h
	}
	return cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middlewares.IdempotencyHeader, handlers.PasswordHeader},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}).Handler(h)
}
