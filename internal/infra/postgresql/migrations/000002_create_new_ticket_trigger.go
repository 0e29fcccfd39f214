package migrations

import (
	"fmt"
	"strings"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func createNewTicketTrigger(channel string) *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_new_ticket_trigger",
		Migrate: func(tx *gorm.DB) error {
			for _, sql := range notifyTriggerStatements(channel) {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			statements := []string{
				`DROP TRIGGER IF EXISTS tickets_notify_insert ON tickets`,
				`DROP FUNCTION IF EXISTS notify_new_ticket()`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// notifyTriggerStatements renders the trigger DDL. The channel is embedded as a
// string literal because pg_notify takes it as text.
func notifyTriggerStatements(channel string) []string {
	return []string{
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION notify_new_ticket() RETURNS trigger AS $$
BEGIN
  PERFORM pg_notify(%s, NEW.id::text);
  RETURN NEW;
END;
$$ LANGUAGE plpgsql`, quoteLiteral(channel)),
		`DROP TRIGGER IF EXISTS tickets_notify_insert ON tickets`,
		`CREATE TRIGGER tickets_notify_insert AFTER INSERT ON tickets FOR EACH ROW EXECUTE FUNCTION notify_new_ticket()`,
	}
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
