package migrations

import (
	"fmt"
	"strings"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Migrate creates the tickets table and the insert trigger that notifies
// channel with the new ticket id.
func Migrate(db *gorm.DB, channel string) error {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return fmt.Errorf("notify channel is required")
	}

	m := gormigrate.New(db, gormigrate.DefaultOptions, migrationList(channel))
	if err := m.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func migrationList(channel string) []*gormigrate.Migration {
	return []*gormigrate.Migration{
		createTicketsTable(),
		createNewTicketTrigger(channel),
	}
}
