package workers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/prepboard/prepboard/authz"
)

// InvitationQueue is the PGMQ queue carrying invitation emails.
const InvitationQueue = "invitation_emails"

// InvitationMessage is the payload queued for each invitation email.
type InvitationMessage struct {
	InvitationID string    `json:"invitation_id"`
	Email        string    `json:"email"`
	OrgName      string    `json:"org_name"`
	Token        string    `json:"token"`
	AccessLevel  int       `json:"access_level"`
	ExpiresAt    time.Time `json:"expires_at"`
	RetryCount   int       `json:"retry_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// PGMQMessage represents a message read from PGMQ
type PGMQMessage struct {
	MsgID      int64           `json:"msg_id"`
	ReadCT     int             `json:"read_ct"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Message    json.RawMessage `json:"message"`
}

// EmailSender delivers a single email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogEmailSender writes emails to the process log. Used in development and
// whenever no SMTP relay is configured.
type LogEmailSender struct{}

func (LogEmailSender) Send(_ context.Context, to, subject, body string) error {
	log.Printf("EMAIL to=%s subject=%q\n%s", to, subject, body)
	return nil
}

// InvitationWorker drains the invitation email queue and hands each message
// to the configured sender. Delivery is transport only; invitation status is
// never touched from here.
type InvitationWorker struct {
	PG      *sql.DB
	Sender  EmailSender
	BaseURL string
}

// NewInvitationWorker creates a new InvitationWorker
func NewInvitationWorker(pg *sql.DB, sender EmailSender, baseURL string) *InvitationWorker {
	if sender == nil {
		sender = LogEmailSender{}
	}
	return &InvitationWorker{PG: pg, Sender: sender, BaseURL: baseURL}
}

// Start runs the worker loop until the context is cancelled.
func (w *InvitationWorker) Start(ctx context.Context) {
	log.Println("Invitation worker started, processing messages from PGMQ...")

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Invitation worker stopped")
			return
		case <-ticker.C:
			w.processQueue(ctx)
		}
	}
}

// processQueue reads a batch from PGMQ with a 30 second visibility timeout.
func (w *InvitationWorker) processQueue(ctx context.Context) {
	query := `SELECT msg_id, read_ct, enqueued_at, vt, message FROM pgmq.read($1, 30, $2)`
	batchSize := 10

	rows, err := w.PG.QueryContext(ctx, query, InvitationQueue, batchSize)
	if err != nil {
		log.Printf("Failed to read from queue %s: %v", InvitationQueue, err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msgID      int64
			readCT     int
			enqueuedAt time.Time
			vt         time.Time
			messageRaw []byte
		)
		if err := rows.Scan(&msgID, &readCT, &enqueuedAt, &vt, &messageRaw); err != nil {
			log.Printf("Failed to scan message from queue %s: %v", InvitationQueue, err)
			continue
		}

		w.processMessage(ctx, &PGMQMessage{
			MsgID:      msgID,
			ReadCT:     readCT,
			EnqueuedAt: enqueuedAt,
			Message:    json.RawMessage(messageRaw),
		})
	}
}

// processMessage delivers one invitation email. A malformed message is
// deleted; a delivery failure leaves the message for redelivery until the
// read count gives up.
func (w *InvitationWorker) processMessage(ctx context.Context, pgmqMsg *PGMQMessage) {
	var msg InvitationMessage
	if err := json.Unmarshal(pgmqMsg.Message, &msg); err != nil {
		log.Printf("Failed to unmarshal invitation message %d: %v", pgmqMsg.MsgID, err)
		w.deleteMessage(pgmqMsg.MsgID)
		return
	}

	if msg.Email == "" || msg.Token == "" {
		log.Printf("Invalid invitation message %d - missing email or token", pgmqMsg.MsgID)
		w.deleteMessage(pgmqMsg.MsgID)
		return
	}

	const maxAttempts = 5
	if pgmqMsg.ReadCT > maxAttempts {
		log.Printf("Giving up on invitation email to %s after %d attempts", msg.Email, pgmqMsg.ReadCT)
		w.logFailedDelivery(&msg, fmt.Errorf("exceeded %d delivery attempts", maxAttempts))
		w.deleteMessage(pgmqMsg.MsgID)
		return
	}

	subject := fmt.Sprintf("You've been invited to join %s", msg.OrgName)
	body := w.composeBody(&msg)

	if err := w.Sender.Send(ctx, msg.Email, subject, body); err != nil {
		log.Printf("Failed to send invitation email to %s: %v", msg.Email, err)
		return
	}

	w.deleteMessage(pgmqMsg.MsgID)
}

func (w *InvitationWorker) composeBody(msg *InvitationMessage) string {
	level := authz.AccessLevel(msg.AccessLevel)
	return fmt.Sprintf(
		"You have been invited to join %s as a %s.\n\n"+
			"Accept your invitation: %s/invite/%s\n\n"+
			"This invitation expires on %s.",
		msg.OrgName, level, w.BaseURL, msg.Token,
		msg.ExpiresAt.Format("January 2, 2006"),
	)
}

// deleteMessage deletes a processed message from PGMQ
func (w *InvitationWorker) deleteMessage(msgID int64) {
	query := `SELECT pgmq.delete($1, $2::bigint)`
	if _, err := w.PG.Exec(query, InvitationQueue, msgID); err != nil {
		log.Printf("Failed to delete message %d from queue %s: %v", msgID, InvitationQueue, err)
	}
}

// logFailedDelivery records permanently failed invitation emails
func (w *InvitationWorker) logFailedDelivery(msg *InvitationMessage, err error) {
	query := `
		INSERT INTO email_logs (invitation_id, recipient, status, error_message, retry_count)
		VALUES ($1, $2, 'failed', $3, $4)
	`
	if _, dbErr := w.PG.Exec(query, msg.InvitationID, msg.Email, err.Error(), msg.RetryCount); dbErr != nil {
		log.Printf("Failed to log failed invitation email: %v", dbErr)
	}
}

// GetQueueStats returns PGMQ metrics for the invitation queue
func (w *InvitationWorker) GetQueueStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	query := `SELECT pgmq.metrics($1)`
	var metricsJSON sql.NullString
	if err := w.PG.QueryRow(query, InvitationQueue).Scan(&metricsJSON); err != nil {
		return nil, fmt.Errorf("failed to get metrics for queue %s: %w", InvitationQueue, err)
	}

	if metricsJSON.Valid {
		var metrics map[string]interface{}
		if err := json.Unmarshal([]byte(metricsJSON.String), &metrics); err == nil {
			stats[InvitationQueue] = metrics
		}
	}
	return stats, nil
}
