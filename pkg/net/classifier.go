package net

// Class 响应分类，所有处理器的分支逻辑都基于它
type Class int

const (
	ClassSuccess Class = iota
	ClassInvalidAuth
	ClassNotFound
	ClassConflict
	ClassNetworkRetriable
	ClassClientError
)

// ForcedResyncCode 强制重同步哨兵
const ForcedResyncCode = "000"

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassInvalidAuth:
		return "invalid_auth"
	case ClassNotFound:
		return "not_found"
	case ClassConflict:
		return "conflict"
	case ClassNetworkRetriable:
		return "network_retriable"
	default:
		return "client_error"
	}
}

// Classify 根据 HTTP 状态码分类
// 状态码 0 表示连接层失败，计入网络重试预算
func Classify(status int) Class {
	switch {
	case status == 0:
		return ClassNetworkRetriable
	case status >= 200 && status < 300:
		return ClassSuccess
	case status == 401 || status == 403:
		return ClassInvalidAuth
	case status == 404:
		return ClassNotFound
	case status == 409:
		return ClassConflict
	case status == 429 || (status >= 500 && status <= 599):
		return ClassNetworkRetriable
	default:
		return ClassClientError
	}
}

// ClassifyCode 对持久化的响应码分类
// "000" 是强制重同步哨兵，归入 success 家族
func ClassifyCode(code string) Class {
	if code == ForcedResyncCode {
		return ClassSuccess
	}
	status := 0
	for _, ch := range code {
		if ch < '0' || ch > '9' {
			return ClassClientError
		}
		status = status*10 + int(ch-'0')
	}
	if code == "" {
		return ClassNetworkRetriable
	}
	return Classify(status)
}

// IsForcedResync 是否为强制重同步哨兵
func IsForcedResync(code string) bool {
	return code == ForcedResyncCode
}

// IsNetworkRetriable 是否可按网络重试策略重试
func IsNetworkRetriable(status int) bool {
	return Classify(status) == ClassNetworkRetriable
}
