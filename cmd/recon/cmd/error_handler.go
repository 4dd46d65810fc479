package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"trade-reconciliation-engine/pkg/errors"
	"trade-reconciliation-engine/pkg/logger"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
	}
}

// HandleError handles errors and provides user-friendly messages
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Error("Command failed")

	if reconErr, ok := errors.As(err); ok {
		return h.handleReconError(reconErr)
	}

	return h.handleGenericError(err)
}

// handleReconError prints the structured error with its context and
// remediation hint, then maps the category to an exit code.
func (h *CLIErrorHandler) handleReconError(err *errors.ReconError) int {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		fmt.Fprintf(os.Stderr, "\nContext:\n")
		for key, value := range err.Context {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", key, value)
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", err.Suggestion)
	}

	if help := h.getCategoryHelp(err.Category); help != "" {
		fmt.Fprintf(os.Stderr, "\n%s\n", help)
	}

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(os.Stderr, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.ExitCode()
}

// handleGenericError handles errors that carry no category.
func (h *CLIErrorHandler) handleGenericError(err error) int {
	if h.isFileNotFoundError(err) {
		fmt.Fprintf(os.Stderr, "Error: File not found\n")
		fmt.Fprintf(os.Stderr, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	}

	if h.isPermissionError(err) {
		fmt.Fprintf(os.Stderr, "Error: Permission denied\n")
		fmt.Fprintf(os.Stderr, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	if !h.verbose {
		fmt.Fprintf(os.Stderr, "\nRun with --verbose for more detailed error information\n")
	}

	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.Category) string {
	switch category {
	case errors.CategoryConfig:
		return `Configuration error help:
• Every setting can be provided as an environment variable with the RECON_ prefix
• Verify configuration file syntax if using --config
• Use 'recon serve --help' to see all available options`

	case errors.CategoryValidation:
		return `Validation error help:
• Verify date formats use YYYY-MM-DD
• Ensure quantities and prices are decimal numbers without currency symbols
• Check that all required flags have values`

	case errors.CategoryParse:
		return `Parse error help:
• Verify the custodian CSV file structure and column headers
• Check the reported line and column for malformed values
• Ensure the file uses UTF-8 encoding`

	case errors.CategoryTransient:
		return `Connection error help:
• Check that the OMS API and database are reachable
• Verify credentials (RECON_OMS_API_KEY, RECON_DATABASE_URL)
• The operation is safe to retry`

	case errors.CategoryStorage:
		return `Storage error help:
• Check that PostgreSQL is running and RECON_DATABASE_URL is correct
• The failed transaction was rolled back; re-run the command`

	case errors.CategoryModel:
		return `Model error help:
• Train an artifact first: recon train --out artifact.json
• Point RECON_MODEL_PATH at a readable artifact file`

	default:
		return ""
	}
}

// Error detection helpers

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}
