package middleware

import (
	"context"
	"reflect"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ==================== 审计上下文 ====================

type auditContextKey struct{}

// AuditInfo 审计信息
type AuditInfo struct {
	OperatorID int64
	Name       string
}

// WithAuditInfo 注入审计信息到 context
func WithAuditInfo(ctx context.Context, operatorID int64, name string) context.Context {
	return context.WithValue(ctx, auditContextKey{}, &AuditInfo{
		OperatorID: operatorID,
		Name:       name,
	})
}

// GetAuditInfo 从 context 获取审计信息
func GetAuditInfo(ctx context.Context) *AuditInfo {
	if info, ok := ctx.Value(auditContextKey{}).(*AuditInfo); ok {
		return info
	}
	return nil
}

// GetAuditOperatorID 从 context 获取操作员 ID
func GetAuditOperatorID(ctx context.Context) int64 {
	if info := GetAuditInfo(ctx); info != nil {
		return info.OperatorID
	}
	return 0
}

// ==================== Gin 中间件 ====================

// AuditContext 将 JWT 中的操作员注入 request context，供 GORM 回调使用
func AuditContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := GetOperatorID(c); id > 0 {
			ctx := WithAuditInfo(c.Request.Context(), id, GetOperatorName(c))
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

// ==================== GORM 回调 ====================

// RegisterAuditCallbacks 注册 GORM 审计回调
// Create 时填充带 CreatedBy 字段的模型 (如手动触发产生的调度记录)
func RegisterAuditCallbacks(db *gorm.DB) error {
	return db.Callback().Create().Before("gorm:create").Register("audit:create", func(tx *gorm.DB) {
		if tx.Statement.Context == nil {
			return
		}
		operatorID := GetAuditOperatorID(tx.Statement.Context)
		if operatorID == 0 {
			return
		}
		setAuditField(tx, "CreatedBy", operatorID)
	})
}

// setAuditField 仅填充零值字段
func setAuditField(tx *gorm.DB, fieldName string, value int64) {
	if tx.Statement.Schema == nil {
		return
	}

	field := tx.Statement.Schema.LookUpField(fieldName)
	if field == nil {
		return
	}

	switch tx.Statement.ReflectValue.Kind() {
	case reflect.Struct:
		if _, isZero := field.ValueOf(tx.Statement.Context, tx.Statement.ReflectValue); isZero {
			_ = field.Set(tx.Statement.Context, tx.Statement.ReflectValue, value)
		}
	case reflect.Slice:
		for i := 0; i < tx.Statement.ReflectValue.Len(); i++ {
			rv := tx.Statement.ReflectValue.Index(i)
			if _, isZero := field.ValueOf(tx.Statement.Context, rv); isZero {
				_ = field.Set(tx.Statement.Context, rv, value)
			}
		}
	}
}
