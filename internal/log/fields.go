package log

// Attribute keys shared across packages.
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldDurationHuman = "duration_human"
	FieldUserAgent     = "user_agent"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldUserID        = "user_id"
	FieldCategoryID    = "category_id"
	FieldCategoryName  = "category"
	FieldTransactionID = "transaction_id"
	FieldBudgetID      = "budget_id"
	FieldAmount        = "amount"
	FieldTxType        = "tx_type"
	FieldRemoteID      = "remote_id"
	FieldEntity        = "entity"
	FieldCurrency      = "currency"
	FieldPercentUsed   = "percent_used"
)

const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentWorker    = "worker"
	ComponentRemote    = "remote"
	ComponentSync      = "sync"
	ComponentCache     = "cache"
	ComponentSecurity  = "security"
	ComponentTrace     = "trace"
	ComponentBudget    = "budget"
	ComponentCurrency  = "currency"
	ComponentAppLock   = "applock"
	ComponentAuth      = "auth"
	ComponentExport    = "export"
	ComponentWebsocket = "websocket"
)

const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpExport = "export"
)

// Fields collects attributes for one log line.
type Fields map[string]any

func NewFields() Fields {
	return make(Fields)
}

func (f Fields) WithOperation(op string) Fields {
	f[FieldOperation] = op
	return f
}

// WithTransaction describes a saved transaction. Notes and tags stay out
// of the logs.
func (f Fields) WithTransaction(id int64, amount string, typ string, categoryID *int64) Fields {
	f[FieldTransactionID] = id
	f[FieldAmount] = amount
	f[FieldTxType] = typ
	if categoryID != nil {
		f[FieldCategoryID] = *categoryID
	}
	return f
}

// WithSync describes a mirrored record.
func (f Fields) WithSync(entity string, id int64, remoteID string) Fields {
	f[FieldEntity] = entity
	f[FieldRemoteID] = remoteID
	f["id"] = id
	return f
}

func (f Fields) ToSlice() []any {
	out := make([]any, 0, len(f)*2)
	for k, v := range f {
		out = append(out, k, v)
	}
	return out
}
