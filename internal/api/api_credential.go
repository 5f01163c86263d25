package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jobs/integration-engine/internal/credential"
	"github.com/jobs/integration-engine/pkg/errors"
)

type ICredentialAPI interface {
	// Connect 保存或替换租户在服务商的凭证
	// @PUT(tenants/{tenant}/credentials/{provider})
	Connect(ctx *gin.Context, tenant, provider string, req ConnectReq) error

	// Disconnect 删除租户凭证
	// @DELETE(tenants/{tenant}/credentials/{provider})
	Disconnect(ctx *gin.Context, tenant, provider string, req DisconnectReq) error
}

type CredentialWriter interface {
	Connect(ctx context.Context, tenantID, providerKey string, installationID *uint64, cred credential.Credential) error
	Disconnect(ctx context.Context, tenantID, providerKey string, installationID *uint64) error
}

type ConnectReq struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	APIKey       string    `json:"api_key"`
	Expiry       time.Time `json:"expiry"`
	Scope        string    `json:"scope"`
	// InstallationID 不为空时凭证只对该安装生效
	InstallationID *uint64 `json:"installation_id"`
}

type DisconnectReq struct {
	InstallationID *uint64 `form:"installation_id"`
}

var _ ICredentialAPI = (*CredentialAPI)(nil)

type CredentialAPI struct {
	store CredentialWriter
}

func NewCredentialAPI(store CredentialWriter) *CredentialAPI {
	return &CredentialAPI{store: store}
}

func (a *CredentialAPI) Connect(ctx *gin.Context, tenant, provider string, req ConnectReq) error {
	if req.AccessToken == "" && req.APIKey == "" && req.RefreshToken == "" {
		return errors.Mark(errors.New("one of access_token, refresh_token or api_key is required"), errors.ErrInvalidRequest)
	}
	return a.store.Connect(ctx, tenant, provider, req.InstallationID, credential.Credential{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		TokenType:    req.TokenType,
		APIKey:       req.APIKey,
		Expiry:       req.Expiry,
		Scope:        req.Scope,
	})
}

func (a *CredentialAPI) Disconnect(ctx *gin.Context, tenant, provider string, req DisconnectReq) error {
	return a.store.Disconnect(ctx, tenant, provider, req.InstallationID)
}

type CredentialAPIWrap struct {
	inner ICredentialAPI
}

func NewCredentialAPIWrap(inner ICredentialAPI) *CredentialAPIWrap {
	return &CredentialAPIWrap{inner: inner}
}

func (w *CredentialAPIWrap) BindAll(r gin.IRouter) {
	r.PUT("/tenants/:tenant/credentials/:provider", func(c *gin.Context) {
		var req ConnectReq
		if !onGinBind(c, &req, "JSON") {
			return
		}
		err := w.inner.Connect(c, c.Param("tenant"), c.Param("provider"), req)
		onGinResponse(c, http.StatusNoContent, nil, err)
	})
	r.DELETE("/tenants/:tenant/credentials/:provider", func(c *gin.Context) {
		var req DisconnectReq
		if !onGinBind(c, &req, "QUERY") {
			return
		}
		err := w.inner.Disconnect(c, c.Param("tenant"), c.Param("provider"), req)
		onGinResponse(c, http.StatusNoContent, nil, err)
	})
}
