// Package errors provides structured error handling for ragkb.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (SQLite, blobs, vector index)
//   - 3XX: Model backend errors (Ollama)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates chunk store, blob, and index errors.
	CategoryStorage Category = "STORAGE"
	// CategoryModel indicates embedding/chat backend errors.
	CategoryModel Category = "MODEL"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeDataDirDenied  = "ERR_103_DATA_DIR_DENIED"

	// Storage errors (200-299)
	ErrCodeStorageFailed     = "ERR_201_STORAGE_FAILED"
	ErrCodeCorruptDatabase   = "ERR_202_CORRUPT_DATABASE"
	ErrCodeCorruptIndex      = "ERR_203_CORRUPT_INDEX"
	ErrCodeBlobWriteFailed   = "ERR_204_BLOB_WRITE_FAILED"
	ErrCodeDuplicateDocument = "ERR_205_DUPLICATE_DOCUMENT"

	// Model backend errors (300-399)
	ErrCodeModelUnreachable = "ERR_301_MODEL_UNREACHABLE"
	ErrCodeModelTimeout     = "ERR_302_MODEL_TIMEOUT"
	ErrCodeEmbeddingFailed  = "ERR_303_EMBEDDING_FAILED"
	ErrCodeChatFailed       = "ERR_304_CHAT_FAILED"
	ErrCodeUnknownModel     = "ERR_305_UNKNOWN_MODEL"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeEmptyQuestion     = "ERR_403_EMPTY_QUESTION"
	ErrCodeChunkNotFound     = "ERR_404_CHUNK_NOT_FOUND"
	ErrCodeEmptyDocument     = "ERR_405_EMPTY_DOCUMENT"
	ErrCodeUnsupportedFile   = "ERR_406_UNSUPPORTED_FILE"

	// Internal errors (500-599)
	ErrCodeInternal         = "ERR_501_INTERNAL"
	ErrCodeRetrievalFailed  = "ERR_502_RETRIEVAL_FAILED"
	ErrCodeAssemblyFailed   = "ERR_503_ASSEMBLY_FAILED"
	ErrCodeIngestFailed     = "ERR_504_INGEST_FAILED"
	ErrCodeExtractionFailed = "ERR_505_EXTRACTION_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "205" from "ERR_205_DUPLICATE_DOCUMENT"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryModel
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptDatabase, ErrCodeCorruptIndex:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeModelUnreachable, ErrCodeModelTimeout:
		return true
	default:
		return false
	}
}
