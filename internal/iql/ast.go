package iql

// FindKind discriminates the four FIND query forms.
type FindKind string

const (
	FindResources  FindKind = "resources"
	FindDownstream FindKind = "downstream"
	FindUpstream   FindKind = "upstream"
	FindPath       FindKind = "path"
)

// Query is a parsed IQL query.
type Query interface{ queryNode() }

// FindQuery is a FIND query in any of its forms.
type FindQuery struct {
	Kind   FindKind
	NodeID string // downstream/upstream root
	FromID string // path endpoints
	ToID   string
	Where  Expr // nil when absent
	Depth  int  // 0 means default
	Limit  int  // 0 means unlimited
}

// SummarizeQuery groups matching nodes by a dotted field.
type SummarizeQuery struct {
	Target string
	By     string
	Where  Expr
}

func (*FindQuery) queryNode()      {}
func (*SummarizeQuery) queryNode() {}

// Expr is a boolean predicate over one node.
type Expr interface{ exprNode() }

// BinaryExpr combines two predicates with AND or OR.
type BinaryExpr struct {
	Op    string // "AND" | "OR"
	Left  Expr
	Right Expr
}

// NotExpr negates a predicate.
type NotExpr struct {
	Inner Expr
}

// CompareExpr compares a dotted field against a literal value.
type CompareExpr struct {
	Field string
	Op    string // = != > < >= <= LIKE IN MATCHES
	Value Value
	Pos   int
}

// CallExpr invokes one of the built-in predicate functions.
type CallExpr struct {
	Fn   string
	Args []Value
	Pos  int
}

func (*BinaryExpr) exprNode()  {}
func (*NotExpr) exprNode()     {}
func (*CompareExpr) exprNode() {}
func (*CallExpr) exprNode()    {}

// ValueKind discriminates literal values.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueNumber
	ValueBool
	ValueList
)

// Value is a literal in a predicate.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	List []Value
}
