// Package domain defines the persistence models for admin users,
// subscribers, newsletter issues and the delivery queue. These types are
// mapped with GORM and shared across the repository, service and worker
// layers.
package domain

import "time"

// Subscription statuses.
const (
	StatusPendingConfirmation = "pending_confirmation"
	StatusConfirmed           = "confirmed"
)

// User is an administrator allowed to publish newsletter issues.
//
// Fields:
//   - UserID: UUID primary key (char(36)).
//   - Username: unique login name.
//   - PasswordHash: bcrypt hash of the password; never serialized.
type User struct {
	UserID       string    `json:"user_id"  gorm:"column:user_id;type:char(36);primaryKey"`
	Username     string    `json:"username" gorm:"type:varchar(64);not null;uniqueIndex:ux_users_username"`
	PasswordHash string    `json:"-"        gorm:"type:text;not null"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Subscriber is a newsletter subscription. Only subscribers whose Status is
// "confirmed" at publish time receive an issue.
type Subscriber struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	Email        string    `json:"email"         gorm:"type:varchar(320);not null;uniqueIndex:ux_subscriptions_email"`
	Name         string    `json:"name"          gorm:"type:text;not null"`
	SubscribedAt time.Time `json:"subscribed_at" gorm:"not null"`
	Status       string    `json:"status"        gorm:"type:varchar(32);not null;index:idx_subscriptions_status"`
}

// TableName returns the database table name for Subscriber.
func (Subscriber) TableName() string { return "subscriptions" }

// SubscriptionToken links a confirmation token to a pending subscriber.
type SubscriptionToken struct {
	Token        string `gorm:"column:subscription_token;type:varchar(25);primaryKey"`
	SubscriberID string `gorm:"type:char(36);not null;index"`

	Subscriber Subscriber `json:"-" gorm:"foreignKey:SubscriberID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for SubscriptionToken.
func (SubscriptionToken) TableName() string { return "subscription_tokens" }

// NewsletterIssue is a published issue. Rows are created once by the
// publish transaction and never updated or deleted afterwards.
type NewsletterIssue struct {
	IssueID     string    `json:"issue_id"     gorm:"column:issue_id;type:char(36);primaryKey"`
	Title       string    `json:"title"        gorm:"type:text;not null"`
	TextContent string    `json:"text_content" gorm:"type:text;not null"`
	HTMLContent string    `json:"html_content" gorm:"column:html_content;type:text;not null"`
	PublishedAt time.Time `json:"published_at" gorm:"not null;index:idx_issues_published_at"`

	// The foreign key lives on issue_delivery_queue.
	Tasks []DeliveryTask `json:"-" gorm:"foreignKey:IssueID;references:IssueID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for NewsletterIssue.
func (NewsletterIssue) TableName() string { return "newsletter_issues" }

// DeliveryTask is one pending delivery of an issue to one subscriber
// address. The (issue_id, subscriber_email) pair is the primary key; rows
// are inserted alongside the issue and deleted once a worker is done with
// them.
type DeliveryTask struct {
	IssueID         string `json:"issue_id"         gorm:"column:issue_id;type:char(36);primaryKey"`
	SubscriberEmail string `json:"subscriber_email" gorm:"type:varchar(320);primaryKey"`
}

// TableName returns the database table name for DeliveryTask.
func (DeliveryTask) TableName() string { return "issue_delivery_queue" }
