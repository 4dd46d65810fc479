// Package errors defines the error taxonomy shared by every component of the
// reconciliation engine.
//
// Errors carry a category (which drives HTTP status codes and CLI exit codes),
// a specific code, an optional remediation suggestion, and key/value context.
// Components construct errors through the typed helpers (NotFoundError,
// StorageError, ...) so that callers can branch on category without string
// matching.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Category classifies an error by how the system must react to it.
type Category string

const (
	// CategoryNotFound marks a referenced entity that does not exist.
	CategoryNotFound Category = "not_found"
	// CategoryValidation marks malformed caller input.
	CategoryValidation Category = "validation"
	// CategoryConfig marks missing or invalid configuration; connectors
	// treat it as "skip this source".
	CategoryConfig Category = "config"
	// CategoryTransient marks network or file-transfer failures that a
	// retry may resolve.
	CategoryTransient Category = "transient"
	// CategoryStorage marks database failures; the enclosing commit is
	// aborted and rolled back.
	CategoryStorage Category = "storage"
	// CategoryModel marks a missing or unusable inference artifact.
	CategoryModel Category = "model"
	// CategoryInvariant marks programming bugs (states that must not be
	// reachable).
	CategoryInvariant Category = "invariant"
	// CategoryParse marks per-line ingestion file errors.
	CategoryParse Category = "parse"
)

// Code identifies a specific failure within a category.
type Code string

const (
	// Not-found codes
	CodeBreakNotFound Code = "break_not_found"
	CodeTradeNotFound Code = "trade_not_found"
	CodeRunNotFound   Code = "run_not_found"

	// Validation codes
	CodeInvalidDate   Code = "invalid_date"
	CodeInvalidAmount Code = "invalid_amount"
	CodeMissingField  Code = "missing_field"
	CodeOutOfRange    Code = "out_of_range"
	CodeUnknownSource Code = "unknown_source"

	// Configuration codes
	CodeMissingConfig Code = "missing_config"
	CodeInvalidConfig Code = "invalid_config"

	// Transient codes
	CodeConnectionFailed Code = "connection_failed"
	CodeRequestTimeout   Code = "request_timeout"
	CodeCircuitOpen      Code = "circuit_open"
	CodeFetchFailed      Code = "fetch_failed"

	// Storage codes
	CodeQueryFailed     Code = "query_failed"
	CodeTxFailed        Code = "tx_failed"
	CodeDuplicateEntity Code = "duplicate_entity"
	CodeSchemaFailed    Code = "schema_failed"

	// Model codes
	CodeArtifactMissing Code = "artifact_missing"
	CodeArtifactInvalid Code = "artifact_invalid"
	CodeScoringFailed   Code = "scoring_failed"

	// Invariant codes
	CodeNoRuleMatched   Code = "no_rule_matched"
	CodeIllegalState    Code = "illegal_state"
	CodeUnexpectedError Code = "unexpected_error"

	// Parse codes
	CodeInvalidFormat Code = "invalid_format"
	CodeMissingColumn Code = "missing_column"
	CodeInvalidData   Code = "invalid_data"
)

// ReconError is the error type used across the engine.
type ReconError struct {
	Category   Category          `json:"category"`
	Code       Code              `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context carries additional structured information about the error.
type Context map[string]interface{}

// Error implements the error interface.
func (e *ReconError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *ReconError) Unwrap() error {
	return e.Cause
}

// ExitCode maps the category to a process exit code for the CLI.
func (e *ReconError) ExitCode() int {
	switch e.Category {
	case CategoryNotFound:
		return 2
	case CategoryValidation, CategoryParse:
		return 3
	case CategoryConfig:
		return 4
	case CategoryStorage, CategoryInvariant:
		return 5
	case CategoryTransient:
		return 6
	case CategoryModel:
		return 7
	default:
		return 1
	}
}

// WithContext attaches a key/value pair to the error.
func (e *ReconError) WithContext(key string, value interface{}) *ReconError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion sets the remediation hint shown to operators.
func (e *ReconError) WithSuggestion(suggestion string) *ReconError {
	e.Suggestion = suggestion
	return e
}

// New creates a ReconError with a captured stack trace.
func New(category Category, code Code, message string) *ReconError {
	return &ReconError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap annotates an existing error with category and code.
func Wrap(err error, category Category, code Code, message string) *ReconError {
	if err == nil {
		return nil
	}
	return &ReconError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// NotFoundError reports a missing entity, e.g. routing an unknown break.
func NotFoundError(code Code, entity string, id interface{}) *ReconError {
	return New(CategoryNotFound, code, fmt.Sprintf("%s not found: %v", entity, id)).
		WithSuggestion(fmt.Sprintf("verify the %s identifier and retry", entity)).
		WithContext("entity", entity).
		WithContext("id", id)
}

// ValidationError reports malformed input for a named field.
func ValidationError(code Code, field string, value interface{}, err error) *ReconError {
	var message, suggestion string
	switch code {
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "use date format YYYY-MM-DD"
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "amounts must be non-negative decimal numbers"
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeOutOfRange:
		message = fmt.Sprintf("value out of range in field '%s': %v", field, value)
		suggestion = "ensure the value is within the documented range"
	case CodeUnknownSource:
		message = fmt.Sprintf("unknown source system in field '%s': %v", field, value)
		suggestion = "valid sources are the registered connector names"
	default:
		message = fmt.Sprintf("validation error in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	result := New(CategoryValidation, code, message)
	if err != nil {
		result = Wrap(err, CategoryValidation, code, message)
	}
	return result.
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// ConfigError reports missing or invalid configuration for a setting.
func ConfigError(code Code, setting string, err error) *ReconError {
	var message, suggestion string
	switch code {
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = fmt.Sprintf("set RECON_%s in the environment", strings.ToUpper(setting))
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s'", setting)
		suggestion = "check the configuration reference for valid values"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check the configuration and try again"
	}

	result := New(CategoryConfig, code, message)
	if err != nil {
		result = Wrap(err, CategoryConfig, code, message)
	}
	return result.
		WithSuggestion(suggestion).
		WithContext("setting", setting)
}

// TransientError reports a network or file-transfer failure against an endpoint.
func TransientError(code Code, endpoint string, err error) *ReconError {
	var message, suggestion string
	switch code {
	case CodeConnectionFailed:
		message = fmt.Sprintf("connection failed to %s", endpoint)
		suggestion = "check connectivity and endpoint availability"
	case CodeRequestTimeout:
		message = fmt.Sprintf("request to %s timed out", endpoint)
		suggestion = "the source may be slow; the next scheduled run will retry"
	case CodeCircuitOpen:
		message = fmt.Sprintf("circuit breaker open for %s", endpoint)
		suggestion = "the endpoint is failing repeatedly; wait for the breaker to recover"
	case CodeFetchFailed:
		message = fmt.Sprintf("fetch from %s failed", endpoint)
		suggestion = "inspect the source system logs"
	default:
		message = fmt.Sprintf("transient error against %s", endpoint)
		suggestion = "retry the operation"
	}

	result := New(CategoryTransient, code, message)
	if err != nil {
		result = Wrap(err, CategoryTransient, code, message)
	}
	return result.
		WithSuggestion(suggestion).
		WithContext("endpoint", endpoint)
}

// StorageError reports a database failure during the named operation.
func StorageError(code Code, operation string, err error) *ReconError {
	var message, suggestion string
	switch code {
	case CodeQueryFailed:
		message = fmt.Sprintf("database query failed during %s", operation)
		suggestion = "check database connectivity and schema version"
	case CodeTxFailed:
		message = fmt.Sprintf("transaction failed during %s", operation)
		suggestion = "the unit of work was rolled back; rerun the operation"
	case CodeDuplicateEntity:
		message = fmt.Sprintf("duplicate entity during %s", operation)
		suggestion = "the record already exists; duplicates are skipped during ingestion"
	case CodeSchemaFailed:
		message = fmt.Sprintf("schema bootstrap failed during %s", operation)
		suggestion = "verify the database user can create tables"
	default:
		message = fmt.Sprintf("storage error during %s", operation)
		suggestion = "check the database and try again"
	}

	result := New(CategoryStorage, code, message)
	if err != nil {
		result = Wrap(err, CategoryStorage, code, message)
	}
	return result.
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// ModelError reports a missing or unusable inference artifact. Prediction
// never falls back to a heuristic when the artifact is absent.
func ModelError(code Code, path string, err error) *ReconError {
	var message, suggestion string
	switch code {
	case CodeArtifactMissing:
		message = fmt.Sprintf("model artifact not found: %s", path)
		suggestion = "train a model first (recon train) or set RECON_MODEL_PATH"
	case CodeArtifactInvalid:
		message = fmt.Sprintf("model artifact is invalid: %s", path)
		suggestion = "retrain the model; the artifact file is corrupt or from an old version"
	case CodeScoringFailed:
		message = "model scoring failed"
		suggestion = "check that the trade carries the fields the model was trained on"
	default:
		message = fmt.Sprintf("model error: %s", path)
		suggestion = "check the model artifact"
	}

	result := New(CategoryModel, code, message)
	if err != nil {
		result = Wrap(err, CategoryModel, code, message)
	}
	return result.
		WithSuggestion(suggestion).
		WithContext("artifact_path", path)
}

// InvariantError reports a state that must be unreachable; it indicates a bug.
func InvariantError(code Code, operation string, err error) *ReconError {
	var message string
	switch code {
	case CodeNoRuleMatched:
		message = fmt.Sprintf("no routing rule matched during %s", operation)
	case CodeIllegalState:
		message = fmt.Sprintf("illegal state transition during %s", operation)
	default:
		message = fmt.Sprintf("unexpected error during %s", operation)
	}

	result := New(CategoryInvariant, code, message)
	if err != nil {
		result = Wrap(err, CategoryInvariant, code, message)
	}
	return result.
		WithSuggestion("this is a bug; report it with the error context").
		WithContext("operation", operation)
}

// ParseError reports a per-line failure while reading an ingestion file.
// Parse errors never abort the surrounding file.
func ParseError(code Code, file string, line int, column, value string, err error) *ReconError {
	var message, suggestion string
	switch code {
	case CodeInvalidFormat:
		message = fmt.Sprintf("invalid format in %s at line %d, column '%s': '%s'", file, line, column, value)
		suggestion = "check the file layout against the custodian file contract"
	case CodeMissingColumn:
		message = fmt.Sprintf("missing required column '%s' in %s", column, file)
		suggestion = "verify the file header carries all required columns"
	case CodeInvalidData:
		message = fmt.Sprintf("invalid data in %s at line %d, column '%s': '%s'", file, line, column, value)
		suggestion = "correct the value or remove the row"
	default:
		message = fmt.Sprintf("parse error in %s at line %d", file, line)
		suggestion = "check the file format"
	}

	result := New(CategoryParse, code, message)
	if err != nil {
		result = Wrap(err, CategoryParse, code, message)
	}
	return result.
		WithSuggestion(suggestion).
		WithContext("file", file).
		WithContext("line", line).
		WithContext("column", column)
}

// Summary aggregates multiple errors, e.g. per-source ingestion failures.
type Summary struct {
	Total      int              `json:"total"`
	ByCategory map[Category]int `json:"by_category"`
	Errors     []*ReconError    `json:"errors"`
}

// NewSummary builds a Summary over the given errors.
func NewSummary(errs []*ReconError) *Summary {
	s := &Summary{
		Total:      len(errs),
		ByCategory: make(map[Category]int),
		Errors:     errs,
	}
	for _, err := range errs {
		s.ByCategory[err.Category]++
	}
	return s
}

// Error returns a one-line rollup of the summary.
func (s *Summary) Error() string {
	if s.Total == 0 {
		return "no errors"
	}
	if s.Total == 1 {
		return s.Errors[0].Error()
	}
	var parts []string
	for category, count := range s.ByCategory {
		parts = append(parts, fmt.Sprintf("%s: %d", category, count))
	}
	return fmt.Sprintf("%d errors occurred (%s)", s.Total, strings.Join(parts, ", "))
}

// ExitCode returns the highest-priority exit code among the errors.
func (s *Summary) ExitCode() int {
	if s.Total == 0 {
		return 0
	}
	maxCode := 1
	for _, err := range s.Errors {
		if code := err.ExitCode(); code > maxCode {
			maxCode = code
		}
	}
	return maxCode
}

// As extracts a ReconError from anywhere in the error chain.
func As(err error) (*ReconError, bool) {
	var reconErr *ReconError
	if errors.As(err, &reconErr) {
		return reconErr, true
	}
	return nil, false
}

// GetCategory returns the category of the error, or empty when the error is
// not a ReconError.
func GetCategory(err error) Category {
	if reconErr, ok := As(err); ok {
		return reconErr.Category
	}
	return ""
}

// IsCategory reports whether the error chain contains a ReconError of the
// given category.
func IsCategory(err error, category Category) bool {
	return GetCategory(err) == category
}

// IsNotFound reports whether the error marks a missing entity.
func IsNotFound(err error) bool {
	return IsCategory(err, CategoryNotFound)
}

// WrapIfNeeded wraps err unless it already is a ReconError.
func WrapIfNeeded(err error, category Category, code Code, message string) *ReconError {
	if err == nil {
		return nil
	}
	if reconErr, ok := As(err); ok {
		return reconErr
	}
	return Wrap(err, category, code, message)
}
