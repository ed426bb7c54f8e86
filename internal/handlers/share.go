package handlers

import (
	"net/http"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/3Eeeecho/go-docstore/internal/pkg/utils"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/services/share"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PasswordHeader 公开链接的密码也可以放在 ?password= 里
const PasswordHeader = "X-Share-Password"

type ShareHandler struct {
	registry share.Registry
}

func NewShareHandler(registry share.Registry) *ShareHandler {
	return &ShareHandler{registry: registry}
}

func toPermissions(b models.ShareBody) share.Permissions {
	return share.Permissions{View: b.View, Upload: b.Upload, Download: b.Download, Edit: b.Edit, Delete: b.Delete}
}

// ShareWithUser PUT /shares/{kind}/:id/users/:user_id，已有授权时覆盖
func (h *ShareHandler) ShareWithUser(kind share.ResourceKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		userID, ok := idParam(c, "user_id")
		if !ok {
			return
		}
		var body models.ShareBody
		if !bindJSON(c, &body) {
			return
		}
		actor, ok := utils.GetActorFromContext(c)
		if !ok {
			return
		}

		var (
			grant any
			err   error
		)
		if kind == share.ResourceFolder {
			grant, err = h.registry.ShareFolder(c.Request.Context(), actor, id, userID, toPermissions(body))
		} else {
			grant, err = h.registry.ShareFile(c.Request.Context(), actor, id, userID, toPermissions(body))
		}
		if err != nil {
			fail(c, "ShareWithUser", err)
			return
		}
		xerr.Success(c, http.StatusOK, "授权成功", grant)
	}
}

func (h *ShareHandler) RevokeUser(kind share.ResourceKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		userID, ok := idParam(c, "user_id")
		if !ok {
			return
		}
		actor, ok := utils.GetActorFromContext(c)
		if !ok {
			return
		}

		var err error
		if kind == share.ResourceFolder {
			err = h.registry.RevokeFolderShare(c.Request.Context(), actor, id, userID)
		} else {
			err = h.registry.RevokeFileShare(c.Request.Context(), actor, id, userID)
		}
		if err != nil {
			fail(c, "RevokeShare", err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// RevokeSelf 被分享者放弃自己的授权
func (h *ShareHandler) RevokeSelf(kind share.ResourceKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		actor, ok := utils.GetActorFromContext(c)
		if !ok {
			return
		}

		var err error
		if kind == share.ResourceFolder {
			err = h.registry.SelfRevokeFolderShare(c.Request.Context(), actor, id)
		} else {
			err = h.registry.SelfRevokeFileShare(c.Request.Context(), actor, id)
		}
		if err != nil {
			fail(c, "SelfRevokeShare", err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ShareToDepartment 请求体可省略，省略时只授予查看
func (h *ShareHandler) ShareToDepartment(kind share.ResourceKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var opts share.DepartmentShareOptions
		if c.Request.ContentLength > 0 {
			var body models.ShareBody
			if !bindJSON(c, &body) {
				return
			}
			perms := toPermissions(body)
			opts.Permissions = &perms
		}
		actor, ok := utils.GetActorFromContext(c)
		if !ok {
			return
		}

		result, err := h.registry.ShareToDepartment(c.Request.Context(), actor, share.ResourceRef{Kind: kind, ID: id}, opts)
		if err != nil {
			fail(c, "ShareToDepartment", err)
			return
		}
		xerr.Success(c, http.StatusOK, "已分享给部门", result)
	}
}

func (h *ShareHandler) ListGrants(kind share.ResourceKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		actor, ok := utils.GetActorFromContext(c)
		if !ok {
			return
		}

		var (
			grants any
			err    error
		)
		if kind == share.ResourceFolder {
			grants, err = h.registry.ListFolderGrants(c.Request.Context(), actor, id)
		} else {
			grants, err = h.registry.ListFileGrants(c.Request.Context(), actor, id)
		}
		if err != nil {
			fail(c, "ListGrants", err)
			return
		}
		xerr.Success(c, http.StatusOK, "ok", grants)
	}
}

// CreateLink POST /links
func (h *ShareHandler) CreateLink(c *gin.Context) {
	var body models.CreateLinkBody
	if !bindJSON(c, &body) {
		return
	}
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}

	link, err := h.registry.CreateLink(c.Request.Context(), actor, body.FileID, share.LinkOptions{
		ExpiresAt:    body.ExpiresAt,
		MaxDownloads: body.MaxDownloads,
		Password:     body.Password,
	})
	if err != nil {
		fail(c, "CreateLink", err)
		return
	}
	xerr.Success(c, http.StatusCreated, "分享链接创建成功", gin.H{
		"link": link,
		"path": "/s/" + link.Token,
	})
}

func (h *ShareHandler) ListLinks(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}
	links, err := h.registry.ListLinks(c.Request.Context(), actor, id)
	if err != nil {
		fail(c, "ListLinks", err)
		return
	}
	xerr.Success(c, http.StatusOK, "ok", links)
}

func (h *ShareHandler) RevokeLink(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	actor, ok := utils.GetActorFromContext(c)
	if !ok {
		return
	}
	if err := h.registry.RevokeLink(c.Request.Context(), actor, id); err != nil {
		fail(c, "RevokeLink", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DownloadLink GET /s/:token，无需登录
func (h *ShareHandler) DownloadLink(c *gin.Context) {
	token := c.Param("token")
	password := c.GetHeader(PasswordHeader)
	if password == "" {
		password = c.Query("password")
	}

	link, rc, err := h.registry.OpenLink(c.Request.Context(), token, password)
	if err != nil {
		fail(c, "DownloadLink", err)
		return
	}
	defer rc.Close()

	logger.Info("share link download", zap.Uint64("linkID", link.ID), zap.Uint64("fileID", link.FileID))
	sendContent(c, link.File.Name, link.File.MimeType, int64(link.File.Size), rc)
}
