package db

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// The repository writes named columns the fakes in other packages never
// see, so a column missing from the schema only surfaces in production.
// This pins every db-tagged model column to the initial migration.
func TestInitialMigrationCoversModelColumns(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("..", "..", "migrations", "000001_init.up.sql"))
	require.NoError(t, err)
	schema := string(raw)

	tables := map[string]interface{}{
		"reports":             Report{},
		"subscriptions":       Subscription{},
		"monitoring_settings": MonitoringSetting{},
		"webhook_events":      WebhookEvent{},
	}

	for table, model := range tables {
		t.Run(table, func(t *testing.T) {
			start := strings.Index(schema, "CREATE TABLE IF NOT EXISTS "+table)
			require.GreaterOrEqual(t, start, 0, "table %s missing from migration", table)
			body := schema[start:]
			if end := strings.Index(body, ");"); end >= 0 {
				body = body[:end]
			}

			typ := reflect.TypeOf(model)
			for i := 0; i < typ.NumField(); i++ {
				col := typ.Field(i).Tag.Get("db")
				if col == "" || col == "-" {
					continue
				}
				require.Contains(t, body, col,
					"column %s.%s is written by the repository but missing from the schema", table, col)
			}
		})
	}
}
