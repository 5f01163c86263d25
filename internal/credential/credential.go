package credential

import (
	"time"
)

// Credential 租户在某个服务商的授权信息
type Credential struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	APIKey       string    `json:"api_key,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	Scope        string    `json:"scope,omitempty"`
}

// NeedsRefresh reports whether the token expires within margin of now.
// Credentials without an expiry never need a refresh.
func (c Credential) NeedsRefresh(now time.Time, margin time.Duration) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return !c.Expiry.After(now.Add(margin))
}

// ValidAt reports whether the access token can still be presented at now.
func (c Credential) ValidAt(now time.Time) bool {
	if c.APIKey != "" && c.AccessToken == "" {
		return true
	}
	return c.AccessToken != "" && (c.Expiry.IsZero() || c.Expiry.After(now))
}

// Bearer 返回请求头中使用的令牌
func (c Credential) Bearer() string {
	if c.AccessToken != "" {
		return c.AccessToken
	}
	return c.APIKey
}
