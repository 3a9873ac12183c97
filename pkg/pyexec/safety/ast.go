package safety

// Node is an element of the reduced syntax tree produced by Parse.
// Only the constructs the analyzer and linter inspect are represented:
// imports, calls and compound statements. Everything else is dropped.
type Node interface {
	Pos() int
}

// Module is the root of a parsed source file.
type Module struct {
	Body []Node
}

// Alias is one imported name, as in "numpy as np".
type Alias struct {
	Name   string
	AsName string
}

// Import is an "import a.b, c as d" statement.
type Import struct {
	Line  int
	Names []Alias
}

// ImportFrom is a "from a.b import c" statement. Level counts the leading
// dots of a relative import.
type ImportFrom struct {
	Line   int
	Module string
	Level  int
	Names  []Alias
}

// Call is a call expression whose callee is a plain or dotted name.
// For "os.system(x)" Func is "system", Receiver is "os" and Attribute is true.
type Call struct {
	Line      int
	Func      string
	Receiver  string
	Attribute bool
}

// Block is a compound statement such as if, for, with, try or def.
// Header holds the calls found between the keyword and the colon.
// Bare is set when the header has no expression, as in "except:".
type Block struct {
	Line    int
	Keyword string
	Bare    bool
	Header  []Node
	Body    []Node
}

func (n *Import) Pos() int     { return n.Line }
func (n *ImportFrom) Pos() int { return n.Line }
func (n *Call) Pos() int       { return n.Line }
func (n *Block) Pos() int      { return n.Line }

// Root returns the top-level package of a dotted module name.
func Root(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return name[:i]
		}
	}
	return name
}

// Walk visits every node of the module in source order. Block headers are
// visited before their bodies. Returning false from fn stops the walk.
func Walk(m *Module, fn func(Node) bool) {
	walkNodes(m.Body, fn)
}

func walkNodes(nodes []Node, fn func(Node) bool) bool {
	for _, n := range nodes {
		if !fn(n) {
			return false
		}
		if b, ok := n.(*Block); ok {
			if !walkNodes(b.Header, fn) || !walkNodes(b.Body, fn) {
				return false
			}
		}
	}
	return true
}
