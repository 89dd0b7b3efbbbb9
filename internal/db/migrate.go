package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"
)

//go:embed sql/pre_automigrate.sql
var preAutoMigrateSQL string

//go:embed sql/post_automigrate.sql
var postAutoMigrateSQL string

// MigrationStep records one phase of a schema migration.
type MigrationStep struct {
	Name    string
	Elapsed time.Duration
}

type migration struct {
	name string
	run  func(ctx context.Context, p *Pool) error
}

// migrations run in order: schema and extensions, model tables, then indexes
// and constraints that AutoMigrate cannot express.
var migrations = []migration{
	{name: "pre-automigrate", run: sqlMigration("pre-automigrate", preAutoMigrateSQL)},
	{name: "automigrate", run: func(ctx context.Context, p *Pool) error {
		if err := p.gdb.WithContext(ctx).AutoMigrate(autoMigrateModels()...); err != nil {
			return fmt.Errorf("gorm auto-migrate models: %w", err)
		}
		return nil
	}},
	{name: "post-automigrate", run: sqlMigration("post-automigrate", postAutoMigrateSQL)},
}

// Migrate re-applies every migration step. NewPool already runs it once.
func (p *Pool) Migrate(ctx context.Context) ([]MigrationStep, error) {
	if p == nil || p.gdb == nil {
		return nil, errPoolClosed
	}

	steps := make([]MigrationStep, 0, len(migrations))
	for _, m := range migrations {
		started := time.Now()
		if err := m.run(ctx, p); err != nil {
			return steps, err
		}
		steps = append(steps, MigrationStep{Name: m.name, Elapsed: time.Since(started)})
	}
	return steps, nil
}

func (p *Pool) autoMigrate(ctx context.Context) error {
	_, err := p.Migrate(ctx)
	return err
}

func sqlMigration(label, sqlText string) func(ctx context.Context, p *Pool) error {
	return func(ctx context.Context, p *Pool) error {
		trimmed := strings.TrimSpace(sqlText)
		if trimmed == "" {
			return nil
		}
		if err := p.gdb.WithContext(ctx).Exec(trimmed).Error; err != nil {
			return fmt.Errorf("execute %s SQL: %w", label, err)
		}
		return nil
	}
}
