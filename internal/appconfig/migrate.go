package appconfig

import (
	"fmt"

	"github.com/aditzel/mcp-squared/internal/mcperr"
)

// migrationStep upgrades cfg in place from one schema version to the next.
type migrationStep func(cfg *Config)

// migrations is indexed by the version a step upgrades *from*: migrations[0]
// takes a v0 config to v1, and so on. There is exactly one step today.
var migrations = map[int]migrationStep{
	0: migrateV0toV1,
}

// migrateV0toV1 is a no-op on the data itself: v0 configs (the pre-schema-
// versioned format) are structurally identical to v1 for every field this
// broker reads. The step exists so future breaking changes have a place to
// land and so the version number advances.
func migrateV0toV1(cfg *Config) {
	cfg.SchemaVersion = 1
}

// Migrate advances cfg stepwise to CurrentSchemaVersion.
//
// Per spec section 9's open question, an absent schemaVersion is treated
// as version 0 (not 1) so the v0->v1 migration always runs rather than
// being silently skipped — the safer of the two behaviors observed across
// the source's two divergent implementations.
func Migrate(cfg *Config) error {
	if cfg.SchemaVersion > CurrentSchemaVersion {
		return mcperr.New(mcperr.CodeUnknownSchemaVersion,
			fmt.Sprintf("config schemaVersion %d is newer than supported %d", cfg.SchemaVersion, CurrentSchemaVersion))
	}
	for cfg.SchemaVersion < CurrentSchemaVersion {
		step, ok := migrations[cfg.SchemaVersion]
		if !ok {
			return mcperr.New(mcperr.CodeUnknownSchemaVersion,
				fmt.Sprintf("no migration path from schemaVersion %d", cfg.SchemaVersion))
		}
		step(cfg)
	}
	return nil
}
