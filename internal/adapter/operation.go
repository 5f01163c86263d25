package adapter

import (
	"net/url"
	"strings"

	"github.com/spf13/cast"
)

type PagingStyle int

const (
	PagingNone PagingStyle = iota
	// PagingToken 使用 pageToken / nextPageToken
	PagingToken
	// PagingOffset 使用起始行和行数
	PagingOffset
)

type Paging struct {
	Style      PagingStyle
	ItemsField string
	// token style
	TokenParam     string
	NextTokenField string
	// offset style
	OffsetParam string
	// SizeParam carries the page size for both styles.
	SizeParam string
}

// Operation 服务商的一个调用, Path 中的 {name} 由参数替换
type Operation struct {
	Name   string
	Method string
	Path   string
	Paging Paging
}

// Adapter is the operation table of one provider.
type Adapter struct {
	Key            string
	DefaultBaseURL string
	Operations     map[string]Operation
	// ProbeOperation 不带参数即可调用的轻量操作
	ProbeOperation string
}

func newAdapter(key, baseURL, probe string, ops ...Operation) Adapter {
	a := Adapter{
		Key:            key,
		DefaultBaseURL: baseURL,
		Operations:     make(map[string]Operation, len(ops)),
		ProbeOperation: probe,
	}
	for _, op := range ops {
		a.Operations[op.Name] = op
	}
	return a
}

func tokenPaging(items, sizeParam string) Paging {
	return Paging{
		Style:          PagingToken,
		ItemsField:     items,
		TokenParam:     "pageToken",
		NextTokenField: "nextPageToken",
		SizeParam:      sizeParam,
	}
}

func offsetPaging(items, offsetParam, sizeParam string) Paging {
	return Paging{
		Style:       PagingOffset,
		ItemsField:  items,
		OffsetParam: offsetParam,
		SizeParam:   sizeParam,
	}
}

// expandPath substitutes path placeholders and returns the params left over.
func (op Operation) expandPath(params map[string]any) (string, map[string]any, string) {
	rest := make(map[string]any, len(params))
	for k, v := range params {
		rest[k] = v
	}
	path := op.Path
	for {
		start := strings.IndexByte(path, '{')
		if start < 0 {
			break
		}
		end := strings.IndexByte(path[start:], '}')
		if end < 0 {
			break
		}
		name := path[start+1 : start+end]
		v, ok := rest[name]
		if !ok || cast.ToString(v) == "" {
			return "", nil, name
		}
		delete(rest, name)
		path = path[:start] + url.PathEscape(cast.ToString(v)) + path[start+end+1:]
	}
	return path, rest, ""
}

// Builtin returns the adapters shipped with the engine.
func Builtin() []Adapter {
	return []Adapter{
		newAdapter("ads", "https://googleads.googleapis.com", "listAccessibleCustomers",
			Operation{Name: "listAccessibleCustomers", Method: "GET", Path: "/v17/customers:listAccessibleCustomers"},
			Operation{Name: "searchReport", Method: "POST", Path: "/v17/customers/{customerId}/googleAds:search",
				Paging: tokenPaging("results", "pageSize")},
			Operation{Name: "listCampaigns", Method: "GET", Path: "/v17/customers/{customerId}/campaigns",
				Paging: tokenPaging("results", "pageSize")},
		),
		newAdapter("analytics", "https://analyticsdata.googleapis.com", "listAccountSummaries",
			Operation{Name: "listAccountSummaries", Method: "GET", Path: "/v1beta/accountSummaries",
				Paging: tokenPaging("accountSummaries", "pageSize")},
			Operation{Name: "runReport", Method: "POST", Path: "/v1beta/properties/{propertyId}:runReport",
				Paging: offsetPaging("rows", "offset", "limit")},
		),
		newAdapter("spreadsheets", "https://sheets.googleapis.com", "listSpreadsheets",
			Operation{Name: "listSpreadsheets", Method: "GET", Path: "/drive/v3/files",
				Paging: tokenPaging("files", "pageSize")},
			Operation{Name: "getValues", Method: "GET", Path: "/v4/spreadsheets/{spreadsheetId}/values/{range}"},
			Operation{Name: "appendValues", Method: "POST", Path: "/v4/spreadsheets/{spreadsheetId}/values/{range}:append"},
		),
		newAdapter("mail", "https://gmail.googleapis.com", "getProfile",
			Operation{Name: "getProfile", Method: "GET", Path: "/gmail/v1/users/me/profile"},
			Operation{Name: "listMessages", Method: "GET", Path: "/gmail/v1/users/me/messages",
				Paging: tokenPaging("messages", "maxResults")},
			Operation{Name: "sendMessage", Method: "POST", Path: "/gmail/v1/users/me/messages/send"},
		),
		newAdapter("document", "https://docs.googleapis.com", "listDocuments",
			Operation{Name: "listDocuments", Method: "GET", Path: "/drive/v3/files",
				Paging: tokenPaging("files", "pageSize")},
			Operation{Name: "getDocument", Method: "GET", Path: "/v1/documents/{documentId}"},
			Operation{Name: "batchUpdate", Method: "POST", Path: "/v1/documents/{documentId}:batchUpdate"},
		),
		newAdapter("search-console", "https://searchconsole.googleapis.com", "listSites",
			Operation{Name: "listSites", Method: "GET", Path: "/webmasters/v3/sites"},
			Operation{Name: "searchAnalytics", Method: "POST", Path: "/webmasters/v3/sites/{siteUrl}/searchAnalytics/query",
				Paging: offsetPaging("rows", "startRow", "rowLimit")},
		),
	}
}
