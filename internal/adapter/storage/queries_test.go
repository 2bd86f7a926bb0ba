package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	got := rebind(`UPDATE t SET a = ?, b = ? WHERE id = ?`)
	assert.Equal(t, `UPDATE t SET a = $1, b = $2 WHERE id = $3`, got)
	assert.NotContains(t, rebind(consumeKeySQL), "?")
}

func TestLoadMigrations(t *testing.T) {
	for _, dialect := range []string{"mysql", "postgres"} {
		t.Run(dialect, func(t *testing.T) {
			migrations, err := loadMigrations(dialect)
			require.NoError(t, err)
			require.NotEmpty(t, migrations)
			assert.Equal(t, "0001_init.sql", migrations[0].name)

			var tables []string
			for _, stmt := range migrations[0].statements {
				if strings.HasPrefix(stmt, "CREATE TABLE") {
					tables = append(tables, strings.Fields(stmt)[5])
				}
			}
			assert.Equal(t, []string{"products", "product_keys", "orders", "order_lines", "notifications"}, tables)
		})
	}
}

func TestLoadMigrations_UnknownDialect(t *testing.T) {
	_, err := loadMigrations("sqlite")
	assert.Error(t, err)
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (id INT);\n\n  CREATE INDEX i ON a (id);\n")
	assert.Equal(t, []string{"CREATE TABLE a (id INT)", "CREATE INDEX i ON a (id)"}, got)
}
