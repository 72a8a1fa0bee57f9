package repository

import "fmt"

// Open returns the Repository selected by dbType: "sqlite", "postgres" or "memory".
func Open(dbType, sqlitePath, postgresURL string) (Repository, error) {
	switch dbType {
	case "", "sqlite":
		if sqlitePath == "" {
			sqlitePath = "pulse-monitor.db"
		}
		return NewSQLiteRepository(sqlitePath)
	case "postgres":
		if postgresURL == "" {
			return nil, fmt.Errorf("postgres repository requires a connection url")
		}
		return NewPostgresRepository(postgresURL)
	case "memory":
		return NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unknown database type %q", dbType)
	}
}
