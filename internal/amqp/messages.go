package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message types, carried in the AMQP "type" property.
const (
	TypePaymentUpserted = "payment.upserted"
	TypePaymentDeleted  = "payment.deleted"
	TypePasswordReset   = "password.reset"
)

// PaymentSyncMessage asks the worker to mirror a created or updated payment.
// Contains only ids, the worker fetches the full payment from the database.
type PaymentSyncMessage struct {
	PaymentID uuid.UUID `json:"payment_id"`
	UserID    uuid.UUID `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentDeleteMessage asks the worker to remove a payment's mirrored row.
type PaymentDeleteMessage struct {
	PaymentID uuid.UUID `json:"payment_id"`
	UserID    uuid.UUID `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// PasswordResetMessage is a mail job for a password reset link.
type PasswordResetMessage struct {
	Email     string    `json:"email"`
	Link      string    `json:"link"`
	Timestamp time.Time `json:"timestamp"`
}

func NewPaymentSyncMessage(paymentID, userID uuid.UUID) *PaymentSyncMessage {
	return &PaymentSyncMessage{PaymentID: paymentID, UserID: userID, Timestamp: time.Now()}
}

func NewPaymentDeleteMessage(paymentID, userID uuid.UUID) *PaymentDeleteMessage {
	return &PaymentDeleteMessage{PaymentID: paymentID, UserID: userID, Timestamp: time.Now()}
}

func NewPasswordResetMessage(email, link string) *PasswordResetMessage {
	return &PasswordResetMessage{Email: email, Link: link, Timestamp: time.Now()}
}

func (m *PaymentSyncMessage) ToJSON() ([]byte, error)   { return json.Marshal(m) }
func (m *PaymentDeleteMessage) ToJSON() ([]byte, error) { return json.Marshal(m) }
func (m *PasswordResetMessage) ToJSON() ([]byte, error) { return json.Marshal(m) }

func PaymentSyncMessageFromJSON(data []byte) (*PaymentSyncMessage, error) {
	var msg PaymentSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func PaymentDeleteMessageFromJSON(data []byte) (*PaymentDeleteMessage, error) {
	var msg PaymentDeleteMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func PasswordResetMessageFromJSON(data []byte) (*PasswordResetMessage, error) {
	var msg PasswordResetMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
