// Package all registers every ledger backend.
//
// Import it for side effects from main packages:
//
//	import _ "gaiji/internal/storage/all"
package all

import (
	_ "gaiji/internal/storage/mssql"
	_ "gaiji/internal/storage/postgres"
	_ "gaiji/internal/storage/sqlite"
)
