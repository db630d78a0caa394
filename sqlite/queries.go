package sqlite

import "fmt"

const schemaTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	payload TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_id ON %[1]s(id);`

type queries struct {
	schema       string
	insert       string
	selectOldest string
	deleteOldest string
	count        string
	clear        string
}

func newQueries(table string) queries {
	return queries{
		schema:       fmt.Sprintf(schemaTemplate, table),
		insert:       fmt.Sprintf("INSERT INTO %s (payload) VALUES (?)", table),
		selectOldest: fmt.Sprintf("SELECT payload FROM %s ORDER BY id ASC LIMIT ?", table),
		deleteOldest: fmt.Sprintf("DELETE FROM %s WHERE id IN (SELECT id FROM %s ORDER BY id ASC LIMIT ?)", table, table),
		count:        fmt.Sprintf("SELECT COUNT(*) FROM %s", table),
		clear:        fmt.Sprintf("DELETE FROM %s", table),
	}
}
