package postgres

// SQL queries for PostgreSQL metadata introspection.
const (
	queryListSchemas = `
		SELECT schema_name
		FROM information_schema.schemata
		WHERE schema_name NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY schema_name`

	queryListAllSchemas = `
		SELECT schema_name
		FROM information_schema.schemata
		ORDER BY schema_name`

	queryListTables = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		  AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	queryListColumns = `
		SELECT
			column_name,
			data_type,
			is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1
		  AND table_name = $2
		ORDER BY ordinal_position`
)
