package migrations

import (
	"strings"
	"testing"

	"github.com/studyflow/studyflow/internal/domain/study"
	"github.com/studyflow/studyflow/internal/platform/db"
)

func TestEmbeddedMigrationsLoad(t *testing.T) {
	migrations, err := db.NewMigrator(nil, FS, "").LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) == 0 || migrations[0].Version != 1 {
		t.Fatalf("expected migrations starting at version 1, got %+v", migrations)
	}
}

func TestSchemaHasMetricColumns(t *testing.T) {
	raw, err := FS.ReadFile("001_studyflow.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	schema := string(raw)
	for _, m := range study.Metrics {
		if !strings.Contains(schema, m.Column()+" BIGINT") {
			t.Errorf("schema is missing column %s", m.Column())
		}
	}
	for _, b := range study.Baselines {
		if !strings.Contains(schema, "    "+b.Column()+" ") {
			t.Errorf("schema is missing baseline column %s", b.Column())
		}
	}
}
