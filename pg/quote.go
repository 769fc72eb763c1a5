package pg

import (
	"fmt"
	"strings"
)

// QuoteIdent validates and quotes a schema or table identifier for embedding
// in SQL. Only ASCII letters, digits and underscores are accepted.
func QuoteIdent(ident string) (string, error) {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return "", fmt.Errorf("empty identifier")
	}
	for _, r := range ident {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			continue
		}
		return "", fmt.Errorf("invalid identifier %q", ident)
	}
	return `"` + ident + `"`, nil
}

// Table returns the quoted "<schema>"."<table>" pair.
func Table(schema, table string) (string, error) {
	qs, err := QuoteIdent(schema)
	if err != nil {
		return "", fmt.Errorf("invalid schema: %w", err)
	}
	qt, err := QuoteIdent(table)
	if err != nil {
		return "", fmt.Errorf("invalid table: %w", err)
	}
	return qs + "." + qt, nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
