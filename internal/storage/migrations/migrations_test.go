package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLFiles_Embedded(t *testing.T) {
	pg, err := sqlFiles("postgres")
	require.NoError(t, err)
	assert.Contains(t, pg, "001_operation_journal.sql")

	ch, err := sqlFiles("clickhouse")
	require.NoError(t, err)
	assert.Contains(t, ch, "001_settlement_events.sql")
}

func TestSplitStatements(t *testing.T) {
	input := `-- header comment; ignored
CREATE TABLE a (x String);

CREATE TABLE b (y String) ENGINE = MergeTree() ORDER BY y;
-- trailing`

	stmts, err := splitStatements(input)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x String)", stmts[0])
	assert.Contains(t, stmts[1], "ENGINE = MergeTree()")
}

func TestSplitStatements_RejectsQuotedSemicolon(t *testing.T) {
	_, err := splitStatements(`INSERT INTO a VALUES ('x;y');`)
	assert.Error(t, err)
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default@localhost:9000/analytics")
	require.NoError(t, err)
	assert.Equal(t, "analytics", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
