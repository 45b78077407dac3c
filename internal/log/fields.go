package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldError      = "error"
	FieldOperation  = "operation"

	FieldUserID      = "user_id"
	FieldScanID      = "scan_id"
	FieldWorkspaceID = "workspace_id"
	FieldReceiptID   = "receipt_id"
	FieldItemID      = "item_id"
	FieldParticipant = "participant_id"
	FieldAmountCents = "amount_cents"
	FieldItemCount   = "item_count"
	FieldSheetsRef   = "sheets_ref"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentWorkspace = "workspace"
	ComponentScan      = "scan"
	ComponentOCR       = "ocr"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentAuth      = "auth"
)

// Operations defines standard operation names
const (
	OpCreate  = "create"
	OpList    = "list"
	OpMove    = "move"
	OpSubmit  = "submit"
	OpExtract = "extract"
	OpExport  = "export"
	OpParse   = "parse"
)
