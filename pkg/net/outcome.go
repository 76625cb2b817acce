package net

// Outcome 带标签的调用结果，处理器通过 type switch 分派
type Outcome interface {
	outcome()
}

type (
	// Success 2xx，RemoteID 按调用方给出的路径从响应体提取
	Success struct {
		Status   int
		RemoteID string
		Body     []byte
	}
	// Retriable 429/5xx/连接失败，网络重试预算已用尽
	Retriable struct {
		Status int
		Body   []byte
	}
	// Conflict 409
	Conflict struct {
		Body []byte
	}
	// NotFound 404
	NotFound struct {
		Body []byte
	}
	// InvalidAuth 401/403，令牌刷新重放之后仍然失败
	InvalidAuth struct {
		Status int
		Body   []byte
	}
	// Terminal 其他 4xx
	Terminal struct {
		Status int
		Body   []byte
	}
)

func (Success) outcome()     {}
func (Retriable) outcome()   {}
func (Conflict) outcome()    {}
func (NotFound) outcome()    {}
func (InvalidAuth) outcome() {}
func (Terminal) outcome()    {}

// Outcome 把 Result 转换为带标签的结果
func (r Result) Outcome(idPath ...string) Outcome {
	switch r.Class() {
	case ClassSuccess:
		s := Success{Status: r.Status, Body: r.Body}
		if len(idPath) > 0 {
			s.RemoteID = ExtractString(r.Body, idPath...)
		}
		return s
	case ClassInvalidAuth:
		return InvalidAuth{Status: r.Status, Body: r.Body}
	case ClassNotFound:
		return NotFound{Body: r.Body}
	case ClassConflict:
		return Conflict{Body: r.Body}
	case ClassNetworkRetriable:
		return Retriable{Status: r.Status, Body: r.Body}
	default:
		return Terminal{Status: r.Status, Body: r.Body}
	}
}
