package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/3Eeeecho/go-docstore/internal/pkg/utils"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/services/explorer"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type FileHandler struct {
	tree     explorer.TreeService
	life     explorer.LifecycleService
	maxBytes int64 // 0 表示不限制
}

func NewFileHandler(tree explorer.TreeService, life explorer.LifecycleService, maxUploadBytes int64) *FileHandler {
	return &FileHandler{tree: tree, life: life, maxBytes: maxUploadBytes}
}

// formFile 取 multipart 的 file 字段
func (h *FileHandler) formFile(c *gin.Context) (*multipart.FileHeader, bool) {
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			xerr.Error(c, http.StatusRequestEntityTooLarge, xerr.InvalidParamsCode, "file too large")
			return nil, false
		}
		c.JSON(http.StatusBadRequest, xerr.Response{Code: xerr.InvalidParamsCode, Message: "file is required", Field: "file"})
		return nil, false
	}
	return fh, true
}

// clientMimeType 浏览器给的通用类型交给服务端按扩展名识别
func clientMimeType(fh *multipart.FileHeader) string {
	mt := fh.Header.Get("Content-Type")
	if mt == "application/octet-stream" {
		return ""
	}
	return mt
}

// UploadFile POST /files，multipart 表单：file, folder_id, duplicate_mode
func (h *FileHandler) UploadFile(c *gin.Context) {
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}
	fh, ok := h.formFile(c)
	if !ok {
		return
	}
	var form models.UploadForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, xerr.Response{Code: xerr.InvalidParamsCode, Message: "invalid folder_id", Field: "folder_id"})
		return
	}

	src, err := fh.Open()
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "failed to read uploaded file")
		return
	}
	defer src.Close()

	file, err := h.tree.UploadFile(c.Request.Context(), actor, explorer.UploadRequest{
		FolderID:      form.FolderID,
		Name:          fh.Filename,
		MimeType:      clientMimeType(fh),
		Content:       src,
		DuplicateMode: explorer.DuplicateMode(form.DuplicateMode),
	})
	if err != nil {
		fail(c, "UploadFile", err)
		return
	}
	logger.Info("file uploaded", zap.Uint64("userID", actor.UserID), zap.Uint64("fileID", file.ID), zap.Uint64("size", file.Size))
	xerr.Success(c, http.StatusCreated, "上传成功", file)
}

// ReplaceContent PUT /files/:id/content，旧内容进入版本历史
func (h *FileHandler) ReplaceContent(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}
	fh, ok := h.formFile(c)
	if !ok {
		return
	}
	src, err := fh.Open()
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "failed to read uploaded file")
		return
	}
	defer src.Close()

	file, err := h.tree.ReplaceFile(c.Request.Context(), actor, id, explorer.UploadRequest{
		Name:     fh.Filename,
		MimeType: clientMimeType(fh),
		Content:  src,
	})
	if err != nil {
		fail(c, "ReplaceContent", err)
		return
	}
	xerr.Success(c, http.StatusOK, "内容已更新", file)
}

func (h *FileHandler) RenameFile(c *gin.Context) {
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
	file, err := h.tree.RenameFile(c.Request.Context(), actor, id, body.Name)
	if err != nil {
		fail(c, "RenameFile", err)
		return
	}
	xerr.Success(c, http.StatusOK, "重命名成功", file)
}

func (h *FileHandler) MoveFile(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var body models.MoveFileBody
	if !bindJSON(c, &body) {
		return
	}
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}
	file, err := h.tree.MoveFile(c.Request.Context(), actor, id, body.FolderID)
	if err != nil {
		fail(c, "MoveFile", err)
		return
	}
	xerr.Success(c, http.StatusOK, "移动成功", file)
}

func (h *FileHandler) DeleteFile(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}
	if err := h.life.DeleteFile(c.Request.Context(), actor, id); err != nil {
		fail(c, "DeleteFile", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *FileHandler) RestoreFile(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}
	file, err := h.life.RestoreFile(c.Request.Context(), actor, id)
	if err != nil {
		fail(c, "RestoreFile", err)
		return
	}
	xerr.Success(c, http.StatusOK, "恢复成功", file)
}

func (h *FileHandler) PurgeFile(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}
	if err := h.life.PurgeFile(c.Request.Context(), actor, id); err != nil {
		fail(c, "PurgeFile", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *FileHandler) DownloadFile(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}
	file, rc, err := h.tree.OpenFile(c.Request.Context(), actor, id)
	if err != nil {
		fail(c, "DownloadFile", err)
		return
	}
	defer rc.Close()
	sendContent(c, file.Name, file.MimeType, int64(file.Size), rc)
}

func (h *FileHandler) ListVersions(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}
	versions, err := h.tree.ListVersions(c.Request.Context(), actor, id)
	if err != nil {
		fail(c, "ListVersions", err)
		return
	}
	xerr.Success(c, http.StatusOK, "ok", versions)
}

func (h *FileHandler) RestoreVersion(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	versionID, ok := idParam(c, "version_id")
	if !ok {
		return
	}
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}
	file, err := h.tree.RestoreVersion(c.Request.Context(), actor, id, versionID)
	if err != nil {
		fail(c, "RestoreVersion", err)
		return
	}
	xerr.Success(c, http.StatusOK, "版本已恢复", file)
}
