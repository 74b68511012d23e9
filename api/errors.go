// errors.go - Fehler-Taxonomie des Kerns
//
// Dieses Modul enthaelt:
// - ErrOutOfBlocks: Cache erschoepft (transient, wird intern behandelt)
// - ConfigError: ungueltige GenerationConfig
// - ModelRuntimeError: Fehlschlag eines Forward-Passes
package api

import (
	"errors"
	"fmt"
)

// ErrOutOfBlocks signalisiert, dass kein freier Block verfuegbar ist.
// Der Scheduler behandelt ihn per Preemption; er erreicht den Aufrufer nur,
// wenn ein einzelner Prompt groesser als der gesamte Cache ist.
var ErrOutOfBlocks = errors.New("kv cache: out of blocks")

// ConfigError beschreibt ein ungueltiges Konfigurationsfeld.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("generation config: %s: %s", e.Field, e.Reason)
}

func configErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ModelRuntimeError kapselt einen fehlgeschlagenen Forward-Pass.
// Der betroffene Step wird verworfen; bereits committete Tokens bleiben gueltig.
type ModelRuntimeError struct {
	Err error
}

func (e *ModelRuntimeError) Error() string {
	return fmt.Sprintf("model runner: %v", e.Err)
}

func (e *ModelRuntimeError) Unwrap() error { return e.Err }
