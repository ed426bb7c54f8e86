package handlers

import (
	"net/http"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/utils"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/services/access"
	"github.com/3Eeeecho/go-docstore/internal/services/explorer"
	"github.com/gin-gonic/gin"
)

// ExplorerHandler 各个视图的列表、回收站和多选打包
type ExplorerHandler struct {
	query    explorer.QueryService
	life     explorer.LifecycleService
	download explorer.DownloadService
}

func NewExplorerHandler(query explorer.QueryService, life explorer.LifecycleService, download explorer.DownloadService) *ExplorerHandler {
	return &ExplorerHandler{query: query, life: life, download: download}
}

type listFunc func(*gin.Context, access.Actor) (*explorer.Listing, error)

func (h *ExplorerHandler) list(op string, fn listFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := utils.GetActorFromContext(c)
		if !ok {
			return
		}
		listing, err := fn(c, actor)
		if err != nil {
			fail(c, op, err)
			return
		}
		xerr.Success(c, http.StatusOK, "ok", listing)
	}
}

func (h *ExplorerHandler) MyFiles() gin.HandlerFunc {
	return h.list("MyFiles", func(c *gin.Context, a access.Actor) (*explorer.Listing, error) {
		return h.query.MyFiles(c.Request.Context(), a)
	})
}

func (h *ExplorerHandler) DepartmentFiles() gin.HandlerFunc {
	return h.list("DepartmentFiles", func(c *gin.Context, a access.Actor) (*explorer.Listing, error) {
		return h.query.DepartmentFiles(c.Request.Context(), a)
	})
}

func (h *ExplorerHandler) SharedWithMe() gin.HandlerFunc {
	return h.list("SharedWithMe", func(c *gin.Context, a access.Actor) (*explorer.Listing, error) {
		return h.query.SharedWithMe(c.Request.Context(), a)
	})
}

func (h *ExplorerHandler) Trash() gin.HandlerFunc {
	return h.list("Trash", func(c *gin.Context, a access.Actor) (*explorer.Listing, error) {
		return h.query.Trash(c.Request.Context(), a)
	})
}

func (h *ExplorerHandler) TrashFolder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	h.list("TrashFolder", func(c *gin.Context, a access.Actor) (*explorer.Listing, error) {
		return h.query.TrashFolderContents(c.Request.Context(), a, id)
	})(c)
}

func (h *ExplorerHandler) EmptyTrash(c *gin.Context) {
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}
	result, err := h.life.EmptyTrash(c.Request.Context(), actor)
	if err != nil {
		fail(c, "EmptyTrash", err)
		return
	}
	xerr.Success(c, http.StatusOK, "回收站已清空", result)
}

// DownloadSelection POST /archive
func (h *ExplorerHandler) DownloadSelection(c *gin.Context) {
	var body models.ArchiveBody
	if !bindJSON(c, &body) {
		return
	}
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}
	arc, err := h.download.DownloadSelection(c.Request.Context(), actor, body.FileIDs, body.FolderIDs)
	if err != nil {
		fail(c, "DownloadSelection", err)
		return
	}
	sendArchive(c, arc)
}
