package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/ticket-mailer/internal/repository"
	"gorm.io/gorm"
)

func createTicketsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_tickets",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.TicketModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets (status)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.TicketModel{})
		},
	}
}
