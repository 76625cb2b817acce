package model

import "time"

// 订阅状态
const (
	SubscriberStatusSubscribed   = 1
	SubscriberStatusNotActive    = 2
	SubscriberStatusUnsubscribed = 3
)

// NewsletterSubscriber 营销订阅 (可选模块)
type NewsletterSubscriber struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	StoreID    int64     `gorm:"index:idx_subscriber_store_email"`
	CustomerID *int64    `gorm:"index"`
	Email      string    `gorm:"size:255;index:idx_subscriber_store_email"`
	Status     int       `gorm:"default:2"`
	ChangedAt  time.Time
}

func (*NewsletterSubscriber) TableName() string {
	return "newsletter_subscribers"
}

// Subscribed 是否处于订阅状态
func (s *NewsletterSubscriber) Subscribed() bool {
	return s != nil && s.Status == SubscriberStatusSubscribed
}
