package handlers

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/3Eeeecho/go-docstore/internal/pkg/logger"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/services/archive"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// idParam 解析路径中的数字 id，失败时直接写 400
func idParam(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, xerr.Response{
			Code:    xerr.InvalidParamsCode,
			Message: fmt.Sprintf("invalid %s", name),
			Field:   name,
		})
		return 0, false
	}
	return id, true
}

// bindJSON 绑定失败时写 400
func bindJSON(c *gin.Context, body any) bool {
	if err := c.ShouldBindJSON(body); err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "请求参数解析失败: "+err.Error())
		return false
	}
	return true
}

// fail 服务端错误额外记录日志
func fail(c *gin.Context, op string, err error) {
	status, _, _ := xerr.Lookup(err)
	if status >= http.StatusInternalServerError {
		logger.Error(op+" failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	xerr.Fail(c, err)
}

func contentDisposition(name string) string {
	encoded := url.PathEscape(name)
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, encoded, encoded)
}

// sendContent 流式返回内容，调用方负责关闭 rc
func sendContent(c *gin.Context, name, mimeType string, size int64, rc io.Reader) {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, size, mimeType, rc, map[string]string{
		"Content-Disposition": contentDisposition(name),
	})
}

// sendArchive 发送后删除临时 zip
func sendArchive(c *gin.Context, arc *archive.Archive) {
	defer func() {
		if err := arc.Close(); err != nil {
			logger.Warn("failed to remove archive", zap.String("path", arc.Path), zap.Error(err))
		}
	}()
	f, err := arc.Open()
	if err != nil {
		fail(c, "open archive", fmt.Errorf("%w: %v", xerr.ErrArchiveBuildFailure, err))
		return
	}
	defer f.Close()
	sendContent(c, arc.Name, "application/zip", arc.Size, f)
}
