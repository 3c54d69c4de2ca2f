package crawler

// Op is a store filter operator.
type Op string

// Supported filter operators.
const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpLte Op = "lte"
)

// Condition is a single store predicate.
type Condition struct {
	Field string
	Op    Op
	// Sub is an optional comparison mode, e.g. "exactDate".
	Sub   string
	Value string
}

// Filter is an AND-composition of conditions.
type Filter []Condition

// Where starts a filter with one condition.
func Where(field string, op Op, value string) Filter {
	return Filter{{Field: field, Op: op, Value: value}}
}

// And appends a condition.
func (f Filter) And(c Condition) Filter {
	out := make(Filter, 0, len(f)+1)
	out = append(out, f...)
	return append(out, c)
}

// Query describes a list request against the record store.
type Query struct {
	Where  Filter
	Fields []string
	// Sort is a field name, prefixed with '-' for descending order.
	Sort  string
	Limit int
}

// RecordPage is one page of list results.
type RecordPage struct {
	Records   []Record
	TotalRows int
}

// Field names of Record as stored remotely.
const (
	FieldTitle       = "originalTitle"
	FieldURL         = "articleUrl"
	FieldCountry     = "country"
	FieldPublishDate = "articlePublishDateEst"
)
