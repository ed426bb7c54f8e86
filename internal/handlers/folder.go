package handlers

import (
	"net/http"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/utils"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/services/explorer"
	"github.com/gin-gonic/gin"
)

type FolderHandler struct {
	tree     explorer.TreeService
	life     explorer.LifecycleService
	query    explorer.QueryService
	download explorer.DownloadService
}

func NewFolderHandler(tree explorer.TreeService, life explorer.LifecycleService, query explorer.QueryService, download explorer.DownloadService) *FolderHandler {
	return &FolderHandler{tree: tree, life: life, query: query, download: download}
}

// CreateFolder POST /folders
func (h *FolderHandler) CreateFolder(c *gin.Context) {
	var body models.CreateFolderBody
	if !bindJSON(c, &body) {
		return
	}
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}

	folder, err := h.tree.CreateFolder(c.Request.Context(), actor, explorer.CreateFolderRequest{
		ParentID:   body.ParentID,
		Name:       body.Name,
		Department: body.Department,
	})
	if err != nil {
		fail(c, "CreateFolder", err)
		return
	}
	xerr.Success(c, http.StatusCreated, "文件夹创建成功", folder)
}

func (h *FolderHandler) RenameFolder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var body models.RenameBody
	if !bindJSON(c, &body) {
		return
	}
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}

	folder, err := h.tree.RenameFolder(c.Request.Context(), actor, id, body.Name)
	if err != nil {
		fail(c, "RenameFolder", err)
		return
	}
	xerr.Success(c, http.StatusOK, "重命名成功", folder)
}

// MoveFolder destination_id 为空表示移动到根目录
func (h *FolderHandler) MoveFolder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var body models.MoveFolderBody
	if !bindJSON(c, &body) {
		return
	}
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}

	folder, err := h.tree.MoveFolder(c.Request.Context(), actor, id, body.DestinationID)
	if err != nil {
		fail(c, "MoveFolder", err)
		return
	}
	xerr.Success(c, http.StatusOK, "移动成功", folder)
}

func (h *FolderHandler) DeleteFolder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}
	if err := h.life.DeleteFolder(c.Request.Context(), actor, id); err != nil {
		fail(c, "DeleteFolder", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *FolderHandler) RestoreFolder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}
	folder, err := h.life.RestoreFolder(c.Request.Context(), actor, id)
	if err != nil {
		fail(c, "RestoreFolder", err)
		return
	}
	xerr.Success(c, http.StatusOK, "恢复成功", folder)
}

func (h *FolderHandler) PurgeFolder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}
	if err := h.life.PurgeFolder(c.Request.Context(), actor, id); err != nil {
		fail(c, "PurgeFolder", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *FolderHandler) FolderContents(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}
	listing, err := h.query.FolderContents(c.Request.Context(), actor, id)
	if err != nil {
		fail(c, "FolderContents", err)
		return
	}
	xerr.Success(c, http.StatusOK, "ok", listing)
}

// DownloadFolder 整个文件夹打包成 zip
func (h *FolderHandler) DownloadFolder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}
	arc, err := h.download.DownloadFolder(c.Request.Context(), actor, id)
	if err != nil {
		fail(c, "DownloadFolder", err)
		return
	}
	sendArchive(c, arc)
}
