package net

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Result 单次 API 调用的统一结果
// HTTP 层错误不会变成 error，只有连接层失败会被转换为 Status=0 的失败结果
type Result struct {
	Status    int
	Body      []byte
	IsSuccess bool
	Err       string // 连接层错误信息，有 HTTP 响应时为空
}

// TransportFailure 构造连接层失败结果
func TransportFailure(msg string) Result {
	return Result{
		Status:    0,
		Body:      []byte(msg),
		IsSuccess: false,
		Err:       msg,
	}
}

// Code 持久化用的响应码字符串
// 连接层失败记为 "0"，与强制重同步哨兵 "000" 区分
func (r Result) Code() string {
	return strconv.Itoa(r.Status)
}

// Class 分类结果
func (r Result) Class() Class {
	return Classify(r.Status)
}

// String 日志输出用
func (r Result) String() string {
	if r.Err != "" {
		return "transport error: " + r.Err
	}
	body := r.Body
	if len(body) > 512 {
		body = body[:512]
	}
	return strconv.Itoa(r.Status) + " " + string(body)
}

// ExtractString 按路径从 JSON 响应体中读取字符串/数字字段
// 例: ExtractString(body, "product", "id")
func ExtractString(body []byte, path ...string) string {
	if len(body) == 0 {
		return ""
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var cur interface{}
	if err := dec.Decode(&cur); err != nil {
		return ""
	}
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return ""
		}
		cur = m[key]
	}
	return scalarToString(cur)
}

// ExtractList 按路径读取 JSON 数组，元素为对象
func ExtractList(body []byte, path ...string) []map[string]interface{} {
	if len(body) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var cur interface{}
	if err := dec.Decode(&cur); err != nil {
		return nil
	}
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[key]
	}
	arr, ok := cur.([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(arr))
	for _, v := range arr {
		if m, ok := v.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// FieldString 读取对象中的标量字段
func FieldString(m map[string]interface{}, key string) string {
	return scalarToString(m[key])
}

func scalarToString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}
