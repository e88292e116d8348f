package history

import "codeberg.org/mutker/pulsecore/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("history_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("history_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("history_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("history_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("history_transaction_failed")

	// Storage Errors
	ErrStorageAccess = errors.ErrorCode("history_storage_access_failed")
	ErrStorageInit   = errors.ErrorCode("history_storage_init_failed")
	ErrStorageClose  = errors.ErrorCode("history_storage_close_failed")

	// Record Errors
	ErrInvalidRecord = errors.ErrorCode("history_invalid_record")
	ErrEncodeRecord  = errors.ErrorCode("history_encode_failed")
	ErrDecodeRecord  = errors.ErrorCode("history_decode_failed")

	// Export Errors
	ErrExportFailed = errors.ErrorCode("history_export_failed")
)
