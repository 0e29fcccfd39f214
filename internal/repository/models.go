package repository

import (
	"time"

	"github.com/kursadbilgin/ticket-mailer/internal/domain"
)

// TicketModel is the persistence model for the tickets table.
type TicketModel struct {
	ID      int64         `gorm:"primaryKey;autoIncrement:false"`
	Email   string        `gorm:"type:text;not null"`
	Subject string        `gorm:"type:text;not null"`
	Body    string        `gorm:"type:text;not null"`
	Status  domain.Status `gorm:"type:varchar(20);not null;default:received"`
	SentAt  *time.Time
}

func (TicketModel) TableName() string {
	return "tickets"
}

func ticketModelFromDomain(t *domain.Ticket) *TicketModel {
	if t == nil {
		return nil
	}

	return &TicketModel{
		ID:      t.ID,
		Email:   t.Email,
		Subject: t.Subject,
		Body:    t.Body,
		Status:  t.Status,
		SentAt:  t.SentAt,
	}
}

func ticketModelToDomain(m *TicketModel) *domain.Ticket {
	if m == nil {
		return nil
	}

	return &domain.Ticket{
		ID:      m.ID,
		Email:   m.Email,
		Subject: m.Subject,
		Body:    m.Body,
		Status:  m.Status,
		SentAt:  m.SentAt,
	}
}
