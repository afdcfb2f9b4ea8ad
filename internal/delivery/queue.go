// Package delivery consumes the issue delivery queue: it claims one pending
// task at a time, emails the issue to the task's subscriber and removes the
// task.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// ErrClaimFinished is returned when a claim is used after Release or Abandon.
var ErrClaimFinished = errors.New("delivery: claim already finished")

// Queue hands out exclusive claims on delivery tasks.
//
// A claim is an open transaction that has selected one task row. On Postgres
// the row is locked FOR UPDATE SKIP LOCKED so concurrent claimants pick
// other rows. On SQLite the transaction is BEGIN IMMEDIATE and holds the
// database writer lock, so concurrent claimants wait and then see the row
// gone. Either way no two claimants ever hold the same task, and a claimant
// that dies without releasing leaves the task claimable again.
type Queue struct {
	DB *gorm.DB
}

// NewQueue returns a Queue on db.
func NewQueue(db *gorm.DB) *Queue { return &Queue{DB: db} }

// Claim is exclusive, temporary ownership of one task.
type Claim struct {
	Task domain.DeliveryTask

	tx   *gorm.DB
	done bool
}

// Tx is the claim's transaction, for reads that must see the same snapshot.
func (c *Claim) Tx() *gorm.DB { return c.tx }

// Claim opens a transaction and selects one task. It returns (nil, nil)
// when the queue is empty.
func (q *Queue) Claim(ctx context.Context) (*Claim, error) {
	tx := q.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin claim: %w", tx.Error)
	}
	task, err := repo.ClaimDeliveryTask(ctx, tx)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("select task: %w", err)
	}
	if task == nil {
		tx.Rollback()
		return nil, nil
	}
	return &Claim{Task: *task, tx: tx}, nil
}

// Release deletes the claimed task and commits. It must be called at most
// once per claim.
func (c *Claim) Release(ctx context.Context) error {
	if c.done {
		return ErrClaimFinished
	}
	c.done = true
	if err := repo.DeleteDeliveryTask(ctx, c.tx, c.Task.IssueID, c.Task.SubscriberEmail); err != nil {
		c.tx.Rollback()
		return fmt.Errorf("delete task: %w", err)
	}
	if err := c.tx.Commit().Error; err != nil {
		return fmt.Errorf("commit release: %w", err)
	}
	return nil
}

// Abandon rolls back the claim, leaving the task in the queue.
func (c *Claim) Abandon() {
	if c.done {
		return
	}
	c.done = true
	c.tx.Rollback()
}
