package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prepboard/prepboard/authz"
	"github.com/prepboard/prepboard/workers"
)

// InviteQueue enqueues invitation emails to PGMQ for the invitation worker.
type InviteQueue struct {
	PG *sql.DB
}

// NewInviteQueue creates a new InviteQueue
func NewInviteQueue(pg *sql.DB) *InviteQueue {
	return &InviteQueue{PG: pg}
}

var _ authz.InviteNotifier = (*InviteQueue)(nil)

// EnqueueInvitationEmail queues one invitation email for delivery.
func (q *InviteQueue) EnqueueInvitationEmail(ctx context.Context, inv authz.Invitation, orgName string) error {
	msg := workers.InvitationMessage{
		InvitationID: inv.ID,
		Email:        inv.Email,
		OrgName:      orgName,
		Token:        inv.Token,
		AccessLevel:  int(inv.AccessLevel),
		ExpiresAt:    inv.ExpiresAt,
		CreatedAt:    time.Now(),
	}

	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal invitation message: %w", err)
	}

	query := `SELECT pgmq.send($1, $2)`
	if _, err := q.PG.ExecContext(ctx, query, workers.InvitationQueue, string(msgJSON)); err != nil {
		return fmt.Errorf("failed to send message to queue %s: %w", workers.InvitationQueue, err)
	}
	return nil
}
