package status

import (
	"io"
	"log/slog"
	"maps"
)

// Table maps backend native status codes to canonical statuses.
type Table map[string]Status

// Default is the batch-scheduler style vocabulary every backend understands.
var Default = Table{
	"PD": Pending,
	"R":  Running,
	"CA": Cancelled,
	"CF": Pending, // configuring
	"CG": Running, // completing
	"CD": Completed,
	"F":  Failed,
	"TO": Timeout,
	"NF": Failed, // node failure
	"RV": Failed, // revoked
	"SE": Failed, // special exit state
}

type Translator struct {
	table Table
	log   *slog.Logger
}

// NewTranslator builds a translator from the default table extended with the
// given backend tables. Entries of the default table cannot be overridden.
func NewTranslator(logger *slog.Logger, extra ...Table) *Translator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	table := Table{}
	for _, t := range extra {
		maps.Copy(table, t)
	}
	maps.Copy(table, Default)

	return &Translator{
		table: table,
		log:   logger,
	}
}

// Translate never fails: unknown codes degrade to Failed so the block gets
// reaped instead of leaking.
func (t *Translator) Translate(native string) Status {
	if status, ok := t.table[native]; ok {
		return status
	}

	t.log.Warn("Unknown native status, assuming failure", "native", native)
	return Failed
}

// Known reports whether native has an explicit mapping.
func (t *Translator) Known(native string) bool {
	_, ok := t.table[native]
	return ok
}
