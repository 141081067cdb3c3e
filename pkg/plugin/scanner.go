package plugin

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotInstalled is recorded for identifiers with no registered plugin.
var ErrNotInstalled = errors.New("plugin: no mushroom module registered")

// Module is a successfully loaded plugin.
type Module struct {
	// ID is the identifier from the installed list.
	ID string

	// Descriptors are the functions the module exports, in declaration order.
	Descriptors []Descriptor
}

// Skip records an identifier that contributed nothing to the scan.
type Skip struct {
	ID  string
	Err error
}

// ScanResult is the outcome of scanning an installed list.
type ScanResult struct {
	// Modules are the loaded modules in installed-list order.
	Modules []Module

	// Skipped are the identifiers that failed to load. Kept for diagnostics;
	// a skipped module is never an error for the scan as a whole.
	Skipped []Skip
}

// Scanner loads plugin modules from a catalog.
type Scanner struct {
	catalog *Catalog
	logger  *slog.Logger
}

// NewScanner creates a scanner over catalog. A nil catalog uses Default.
func NewScanner(catalog *Catalog, logger *slog.Logger) *Scanner {
	if catalog == nil {
		catalog = Default
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		catalog: catalog,
		logger:  logger.With("component", "plugin_scanner"),
	}
}

// Scan loads every identifier in order. Failures are recorded in Skipped and
// scanning continues with the next identifier. There are no retries.
func (s *Scanner) Scan(ids []string) ScanResult {
	var result ScanResult
	for _, id := range ids {
		mod, err := s.load(id)
		if err != nil {
			s.logger.Debug("plugin skipped", "plugin", id, "error", err)
			result.Skipped = append(result.Skipped, Skip{ID: id, Err: err})
			continue
		}
		result.Modules = append(result.Modules, mod)
	}
	return result
}

func (s *Scanner) load(id string) (mod Module, err error) {
	fn, ok := s.catalog.Lookup(id)
	if !ok {
		return Module{}, ErrNotInstalled
	}

	defer func() {
		if r := recover(); r != nil {
			mod = Module{}
			err = fmt.Errorf("plugin: %s panicked during registration: %v", id, r)
		}
	}()

	descriptors, err := fn()
	if err != nil {
		return Module{}, fmt.Errorf("plugin: load %s: %w", id, err)
	}
	return Module{ID: id, Descriptors: descriptors}, nil
}
