package database

import (
	"fmt"
	"path/filepath"

	"permafrost/internal/config"
)

// CatalogFileName is the name of the catalog database inside data_dir.
const CatalogFileName = "catalog.db"

// NewCatalogFromConfig creates a SQLiteCatalog based on the database config type.
// The schema is not migrated here.
func NewCatalogFromConfig(cfg config.DatabaseConfig) (*SQLiteCatalog, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return NewSQLiteCatalog(filepath.Join(cfg.DataDir, CatalogFileName))
	case "memory":
		return NewSQLiteCatalog(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
