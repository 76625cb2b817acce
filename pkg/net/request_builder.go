package net

import (
	"net/http"
	"net/url"
)

// RequestOptions 单次请求的可选项
// Body 为 nil 时不发送请求体
type RequestOptions struct {
	Headers map[string]string
	Query   url.Values
	Body    interface{}
}

// BuildAuthHeaders 通用鉴权头构建
// 职责：统一封装 Bearer 令牌和 app key 头
func BuildAuthHeaders(appKey, accessToken string) map[string]string {
	h := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	if appKey != "" {
		h["X-App-Key"] = appKey
	}
	if accessToken != "" {
		h["Authorization"] = "Bearer " + accessToken
	}
	return h
}

// WithAuth 返回附带鉴权头的请求选项副本
func (o RequestOptions) WithAuth(appKey, accessToken string) RequestOptions {
	merged := BuildAuthHeaders(appKey, accessToken)
	for k, v := range o.Headers {
		merged[k] = v
	}
	o.Headers = merged
	return o
}

// JSON 构建带 JSON 请求体的选项
func JSON(body interface{}) RequestOptions {
	return RequestOptions{Body: body}
}

// QueryOf 构建仅带查询参数的选项
func QueryOf(kv ...string) RequestOptions {
	q := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		q.Set(kv[i], kv[i+1])
	}
	return RequestOptions{Query: q}
}

// 方法常量，调用方统一引用
const (
	MethodGet    = http.MethodGet
	MethodPost   = http.MethodPost
	MethodPatch  = http.MethodPatch
	MethodDelete = http.MethodDelete
)
