package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"github.com/jobs/integration-engine/pkg/errors"
)

var Provider = wire.NewSet(
	NewInstallationAPI,
	NewCredentialAPI,
	NewCommonAPI,
	NewServer,
)

// onGinBind 绑定失败时记录错误, 由 ErrorHandlingMiddleware 输出 400
func onGinBind(c *gin.Context, val any, typ string) bool {
	var err error
	switch typ {
	case "JSON":
		err = c.ShouldBindJSON(val)
	case "QUERY":
		err = c.ShouldBindQuery(val)
	default:
		err = c.ShouldBind(val)
	}
	if err != nil {
		_ = c.Error(errors.Mark(errors.Wrap(err, "bind request"), errors.ErrInvalidRequest))
		c.Abort()
		return false
	}
	return true
}

func onGinResponse(c *gin.Context, status int, data any, err error) {
	if err != nil {
		_ = c.Error(err)
		c.Abort()
		return
	}
	if status == http.StatusNoContent {
		c.Status(status)
		return
	}
	c.JSON(status, data)
}

func pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		_ = c.Error(errors.Mark(errors.Newf("invalid %s %q", name, c.Param(name)), errors.ErrInvalidRequest))
		c.Abort()
		return 0, false
	}
	return id, true
}
