package migration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

type migrationStep struct {
	Name string
	SQL  string
}

var steps = []migrationStep{
	{
		Name: "create_table_image_assets",
		SQL: `CREATE TABLE IF NOT EXISTS image_assets (
  id                BIGSERIAL   PRIMARY KEY,
  project_id        BIGINT      NOT NULL,
  original_filename TEXT        NOT NULL,
  content_type      TEXT        NOT NULL,
  size_bytes        BIGINT      NOT NULL CHECK (size_bytes >= 0),
  fingerprint       CHAR(64)    NOT NULL,
  object_key        TEXT        NOT NULL,
  thumbnail_key     TEXT,
  status            TEXT        NOT NULL DEFAULT 'PROCESSING',
  soft_deleted      BOOLEAN     NOT NULL DEFAULT FALSE,
  tags              TEXT        NOT NULL DEFAULT '',
  memo              TEXT        NOT NULL DEFAULT '',
  version           BIGINT      NOT NULL DEFAULT 0,
  created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		// Authoritative dedup guard: at most one live asset per
		// (project, fingerprint). Soft-deleted rows are excluded so content
		// can be re-uploaded after deletion.
		Name: "create_unique_index_image_assets_project_fingerprint",
		SQL: `CREATE UNIQUE INDEX IF NOT EXISTS uk_image_assets_project_fingerprint
  ON image_assets (project_id, fingerprint) WHERE NOT soft_deleted;`,
	},
	{
		Name: "create_index_image_assets_listing",
		SQL: `CREATE INDEX IF NOT EXISTS idx_image_assets_listing
  ON image_assets (project_id, soft_deleted, status, id DESC);`,
	},
	{
		Name: "create_index_image_assets_tags",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_image_assets_tags ON image_assets (tags);`,
	},
}

// EnsureMigrated checks if the 'image_assets' table exists and runs migrations if it doesn't.
func EnsureMigrated(ctx context.Context, db *sql.DB, loc *time.Location, dbHost string) error {
	start := time.Now()

	logJSON(loc, map[string]any{
		"component": "database",
		"event":     "db_migration_check",
		"status":    "starting",
		"db_host":   dbHost,
	})

	var exists bool
	query := "SELECT to_regclass('public.image_assets') IS NOT NULL"
	err := db.QueryRowContext(ctx, query).Scan(&exists)
	if err != nil {
		logJSON(loc, map[string]any{
			"component":     "database",
			"event":         "db_migration_failed",
			"status":        "error",
			"error_message": fmt.Sprintf("failed to check sentinel table: %v", err),
			"db_host":       dbHost,
			"duration_ms":   time.Since(start).Milliseconds(),
		})
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		logJSON(loc, map[string]any{
			"component":   "database",
			"event":       "db_migration_skip",
			"status":      "success",
			"msg":         "schema already exists, skipping migration",
			"db_host":     dbHost,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return nil
	}

	logJSON(loc, map[string]any{
		"component": "database",
		"event":     "db_migration_start",
		"status":    "in_progress",
		"db_host":   dbHost,
	})

	for _, step := range steps {
		stepStart := time.Now()
		_, err := db.ExecContext(ctx, step.SQL)
		if err != nil {
			logJSON(loc, map[string]any{
				"component":        "database",
				"event":            "db_migration_failed",
				"status":           "error",
				"migration_step":   step.Name,
				"error_message":    err.Error(),
				"db_host":          dbHost,
				"duration_ms":      time.Since(start).Milliseconds(),
				"step_duration_ms": time.Since(stepStart).Milliseconds(),
			})
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		logJSON(loc, map[string]any{
			"component":        "database",
			"event":            "db_migration_step",
			"status":           "success",
			"migration_step":   step.Name,
			"db_host":          dbHost,
			"step_duration_ms": time.Since(stepStart).Milliseconds(),
		})
	}

	logJSON(loc, map[string]any{
		"component":   "database",
		"event":       "db_migration_success",
		"status":      "success",
		"db_host":     dbHost,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return nil
}

func logJSON(loc *time.Location, data map[string]any) {
	data["ts"] = time.Now().In(loc).Format(time.RFC3339Nano)
	if _, ok := data["level"]; !ok {
		if data["status"] == "error" {
			data["level"] = "error"
		} else {
			data["level"] = "info"
		}
	}

	b, err := json.Marshal(data)
	if err != nil {
		log.Printf("failed to marshal migration log: %v", err)
		return
	}
	log.SetFlags(0)
	log.Println(string(b))
}
