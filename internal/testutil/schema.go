package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
)

// newSchemaName builds a short, collision-resistant schema name for test
// isolation: each test gets its own schema so parallel runs never see each
// other's tables.
func newSchemaName(prefix string) string {
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(suffix))
}

// dsnWithSearchPath rewrites a postgres DSN to scope the connection's
// search_path to schema, so queries issued through the returned DSN never
// need to qualify table names with the schema explicitly.
func dsnWithSearchPath(dsn, schema string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
