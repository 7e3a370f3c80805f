package repository

import "strings"

// prefixed 给逗号分隔的普通列名加上表别名，只用于不含表达式的列清单
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
