package lua

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

// ErrUnsupportedSyntax is returned for constructs the instrumenter cannot print.
var ErrUnsupportedSyntax = errors.New("unsupported syntax")

// ErrReservedName is returned when source declares a local that would
// shadow the instruction counter.
var ErrReservedName = errors.New("reserved name")

const indentUnit = "  "

// Instrument parses source and prints it back with a call to
// _instruction_counter.incr(n) at the head of every block, n being the
// number of statements in the block. Loop bodies always count at least one
// so empty loops are still metered. Expressions are printed fully
// parenthesised.
func Instrument(source []byte) ([]byte, error) {
	chunk, err := parse.Parse(bytes.NewReader(source), "contract")
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	p := &printer{}
	p.block(chunk, false)
	if p.err != nil {
		return nil, p.err
	}
	return p.buf.Bytes(), nil
}

// printer writes Lua source. The first error sticks; later output is
// discarded by Instrument.
type printer struct {
	buf   bytes.Buffer
	depth int
	err   error
}

func (p *printer) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *printer) line(format string, args ...any) {
	p.buf.WriteString(strings.Repeat(indentUnit, p.depth))
	fmt.Fprintf(&p.buf, format, args...)
	p.buf.WriteByte('\n')
}

func (p *printer) block(stmts []ast.Stmt, loop bool) {
	n := len(stmts)
	if loop && n == 0 {
		n = 1
	}
	if n > 0 {
		p.line("%s.incr(%d)", counterName, n)
	}
	for _, s := range stmts {
		p.stmt(s)
	}
}

func (p *printer) nested(stmts []ast.Stmt, loop bool) {
	p.depth++
	p.block(stmts, loop)
	p.depth--
}

func (p *printer) stmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.AssignStmt:
		if len(s.Lhs) == 1 && len(s.Rhs) == 1 {
			if fn, ok := s.Rhs[0].(*ast.FunctionExpr); ok {
				if name, ok := namePath(s.Lhs[0]); ok {
					p.line("%s", p.function(name, fn, false))
					return
				}
			}
		}
		p.exprLine(fmt.Sprintf("%s = %s", p.exprList(s.Lhs), p.exprList(s.Rhs)))

	case *ast.LocalAssignStmt:
		p.declare(s.Line(), s.Names...)
		names := strings.Join(s.Names, ", ")
		switch {
		case len(s.Names) == 1 && len(s.Exprs) == 1 && isFunction(s.Exprs[0]):
			p.line("local %s", p.function(s.Names[0], s.Exprs[0].(*ast.FunctionExpr), false))
		case len(s.Exprs) == 0:
			p.line("local %s", names)
		default:
			p.line("local %s = %s", names, p.exprList(s.Exprs))
		}

	case *ast.FuncCallStmt:
		p.exprLine(p.expr(s.Expr))

	case *ast.DoBlockStmt:
		p.line("do")
		p.nested(s.Stmts, false)
		p.line("end")

	case *ast.WhileStmt:
		p.line("while %s do", p.expr(s.Condition))
		p.nested(s.Stmts, true)
		p.line("end")

	case *ast.RepeatStmt:
		p.line("repeat")
		p.nested(s.Stmts, true)
		p.line("until %s", p.expr(s.Condition))

	case *ast.IfStmt:
		p.ifStmt(s)

	case *ast.NumberForStmt:
		p.declare(s.Line(), s.Name)
		header := fmt.Sprintf("for %s = %s, %s", s.Name, p.expr(s.Init), p.expr(s.Limit))
		if s.Step != nil {
			header += ", " + p.expr(s.Step)
		}
		p.line("%s do", header)
		p.nested(s.Stmts, true)
		p.line("end")

	case *ast.GenericForStmt:
		p.declare(s.Line(), s.Names...)
		p.line("for %s in %s do", strings.Join(s.Names, ", "), p.exprList(s.Exprs))
		p.nested(s.Stmts, true)
		p.line("end")

	case *ast.FuncDefStmt:
		p.funcDef(s)

	case *ast.ReturnStmt:
		if len(s.Exprs) == 0 {
			p.line("return")
			return
		}
		p.line("return %s", p.exprList(s.Exprs))

	case *ast.BreakStmt:
		p.line("break")

	default:
		p.fail(fmt.Errorf("%w: %T at line %d", ErrUnsupportedSyntax, s, s.Line()))
	}
}

// declare rejects local names that would hide the counter from the calls
// printed into their scope.
func (p *printer) declare(line int, names ...string) {
	for _, name := range names {
		if name == counterName {
			p.fail(fmt.Errorf("%w: local %s at line %d", ErrReservedName, name, line))
		}
	}
}

// exprLine writes an assignment or call statement. A leading parenthesis
// would otherwise be read as a call on the previous line's expression.
func (p *printer) exprLine(text string) {
	if strings.HasPrefix(text, "(") {
		text = ";" + text
	}
	p.line("%s", text)
}

func (p *printer) ifStmt(s *ast.IfStmt) {
	p.line("if %s then", p.expr(s.Condition))
	for {
		p.nested(s.Then, false)
		if len(s.Else) == 1 {
			if next, ok := s.Else[0].(*ast.IfStmt); ok {
				s = next
				p.line("elseif %s then", p.expr(s.Condition))
				continue
			}
		}
		if len(s.Else) > 0 {
			p.line("else")
			p.nested(s.Else, false)
		}
		break
	}
	p.line("end")
}

func (p *printer) funcDef(s *ast.FuncDefStmt) {
	if s.Name.Func != nil {
		name, ok := namePath(s.Name.Func)
		if !ok {
			p.fail(fmt.Errorf("%w: function name at line %d", ErrUnsupportedSyntax, s.Line()))
			return
		}
		p.line("%s", p.function(name, s.Func, false))
		return
	}

	recv, ok := namePath(s.Name.Receiver)
	if !ok {
		p.fail(fmt.Errorf("%w: method receiver at line %d", ErrUnsupportedSyntax, s.Line()))
		return
	}
	p.line("%s", p.function(recv+":"+s.Name.Method, s.Func, true))
}

// function prints a function with its body indented one level deeper than
// the current statement. An empty name prints an anonymous function.
func (p *printer) function(name string, fn *ast.FunctionExpr, method bool) string {
	params := []string{}
	vararg := false
	if fn.ParList != nil {
		p.declare(fn.Line(), fn.ParList.Names...)
		params = append(params, fn.ParList.Names...)
		vararg = fn.ParList.HasVargs
	}
	if method && len(params) > 0 && params[0] == "self" {
		params = params[1:]
	}
	if vararg {
		params = append(params, "...")
	}

	body := &printer{depth: p.depth + 1}
	body.block(fn.Stmts, false)
	if body.err != nil {
		p.fail(body.err)
	}

	var b strings.Builder
	b.WriteString("function")
	if name != "" {
		b.WriteString(" " + name)
	}
	fmt.Fprintf(&b, "(%s)\n", strings.Join(params, ", "))
	b.Write(body.buf.Bytes())
	b.WriteString(strings.Repeat(indentUnit, p.depth) + "end")
	return b.String()
}

func (p *printer) exprList(exprs []ast.Expr) string {
	parts := make([]string, len(exprs))
	for n, e := range exprs {
		parts[n] = p.expr(e)
	}
	return strings.Join(parts, ", ")
}

func (p *printer) expr(e ast.Expr) string {
	switch e := e.(type) {
	case *ast.TrueExpr:
		return "true"
	case *ast.FalseExpr:
		return "false"
	case *ast.NilExpr:
		return "nil"
	case *ast.NumberExpr:
		return e.Value
	case *ast.StringExpr:
		return quote(e.Value)
	case *ast.Comma3Expr:
		if e.AdjustRet {
			return "(...)"
		}
		return "..."
	case *ast.IdentExpr:
		return e.Value
	case *ast.AttrGetExpr:
		return p.prefix(e.Object) + p.index(e.Key)
	case *ast.TableExpr:
		return p.table(e)
	case *ast.FuncCallExpr:
		var call string
		if e.Receiver != nil {
			call = fmt.Sprintf("%s:%s(%s)", p.prefix(e.Receiver), e.Method, p.exprList(e.Args))
		} else {
			call = fmt.Sprintf("%s(%s)", p.prefix(e.Func), p.exprList(e.Args))
		}
		if e.AdjustRet {
			return "(" + call + ")"
		}
		return call
	case *ast.LogicalOpExpr:
		return p.binary(e.Lhs, e.Operator, e.Rhs)
	case *ast.RelationalOpExpr:
		return p.binary(e.Lhs, e.Operator, e.Rhs)
	case *ast.ArithmeticOpExpr:
		return p.binary(e.Lhs, e.Operator, e.Rhs)
	case *ast.StringConcatOpExpr:
		return p.binary(e.Lhs, "..", e.Rhs)
	case *ast.UnaryMinusOpExpr:
		return "(-" + p.expr(e.Expr) + ")"
	case *ast.UnaryNotOpExpr:
		return "(not " + p.expr(e.Expr) + ")"
	case *ast.UnaryLenOpExpr:
		return "(#" + p.expr(e.Expr) + ")"
	case *ast.FunctionExpr:
		return p.function("", e, false)
	default:
		p.fail(fmt.Errorf("%w: %T", ErrUnsupportedSyntax, e))
		return ""
	}
}

func (p *printer) binary(lhs ast.Expr, op string, rhs ast.Expr) string {
	return "(" + p.expr(lhs) + " " + op + " " + p.expr(rhs) + ")"
}

// prefix prints e where Lua grammar requires a prefix expression: the
// object of an index or call.
func (p *printer) prefix(e ast.Expr) string {
	switch e := e.(type) {
	case *ast.IdentExpr, *ast.AttrGetExpr:
		return p.expr(e)
	case *ast.FuncCallExpr:
		return p.expr(e)
	case *ast.LogicalOpExpr, *ast.RelationalOpExpr, *ast.ArithmeticOpExpr, *ast.StringConcatOpExpr,
		*ast.UnaryMinusOpExpr, *ast.UnaryNotOpExpr, *ast.UnaryLenOpExpr:
		return p.expr(e)
	case *ast.Comma3Expr:
		return "(...)"
	default:
		return "(" + p.expr(e) + ")"
	}
}

func (p *printer) index(key ast.Expr) string {
	if s, ok := key.(*ast.StringExpr); ok && isName(s.Value) {
		return "." + s.Value
	}
	return "[" + p.expr(key) + "]"
}

func (p *printer) table(t *ast.TableExpr) string {
	if len(t.Fields) == 0 {
		return "{}"
	}
	parts := make([]string, len(t.Fields))
	for n, f := range t.Fields {
		switch k := f.Key.(type) {
		case nil:
			parts[n] = p.expr(f.Value)
		case *ast.StringExpr:
			if isName(k.Value) {
				parts[n] = k.Value + " = " + p.expr(f.Value)
				continue
			}
			parts[n] = "[" + p.expr(k) + "] = " + p.expr(f.Value)
		default:
			parts[n] = "[" + p.expr(k) + "] = " + p.expr(f.Value)
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// namePath prints a function name: an identifier optionally followed by
// field accesses with identifier keys.
func namePath(e ast.Expr) (string, bool) {
	switch e := e.(type) {
	case *ast.IdentExpr:
		return e.Value, true
	case *ast.AttrGetExpr:
		obj, ok := namePath(e.Object)
		if !ok {
			return "", false
		}
		key, ok := e.Key.(*ast.StringExpr)
		if !ok || !isName(key.Value) {
			return "", false
		}
		return obj + "." + key.Value, true
	default:
		return "", false
	}
}

func isFunction(e ast.Expr) bool {
	_, ok := e.(*ast.FunctionExpr)
	return ok
}

var keywords = map[string]bool{
	"and": true, "break": true, "do": true, "else": true, "elseif": true,
	"end": true, "false": true, "for": true, "function": true, "if": true,
	"in": true, "local": true, "nil": true, "not": true, "or": true,
	"repeat": true, "return": true, "then": true, "true": true, "until": true,
	"while": true, "goto": true,
}

func isName(s string) bool {
	if s == "" || keywords[s] {
		return false
	}
	for n := 0; n < len(s); n++ {
		c := s[n]
		switch {
		case c == '_', 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case '0' <= c && c <= '9' && n > 0:
		default:
			return false
		}
	}
	return true
}

// quote returns s as a double-quoted Lua string literal.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for n := 0; n < len(s); n++ {
		c := s[n]
		switch c {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 || c == 0x7f {
				fmt.Fprintf(&b, `\%03d`, c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
