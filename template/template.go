package template

import (
	"fmt"
	"net/url"
	"strings"
)

// Render evaluates a template against a context and returns the transformed
// payload.
//
// Parse problems (unterminated directives, malformed expressions) are
// returned as errors. Evaluation problems (a reference that does not
// resolve, attribute access on null, an index out of range) are absorbed
// into empty output instead, because that is what the emulated provider
// does.
func Render(src string, ctx *Context) (string, error) {
	p := &parser{src: src}
	nodes, err := p.parseNodes(false)
	if err != nil {
		return "", err
	}

	ev := &evaluator{ctx: ctx, vars: make(map[string]Value)}
	var sb strings.Builder
	ev.renderNodes(nodes, &sb)
	return sb.String(), nil
}

//
// AST
//

type node interface{}

type textNode string

type interpNode struct {
	ref refExpr
}

type setNode struct {
	name string
	expr expr
}

type ifNode struct {
	cond expr
	then []node
	els  []node
}

type expr interface{}

type litExpr struct {
	val Value
}

type refExpr struct {
	name  string
	chain []accessor
}

type binExpr struct {
	op    string // "==" or "!="
	left  expr
	right expr
}

const (
	accessProperty = iota
	accessCall
	accessIndex
)

type accessor struct {
	kind  int
	name  string
	args  []expr
	index expr
}

//
// Parser
//

type parser struct {
	src string
	pos int
}

func (p *parser) errorf(format string, a ...interface{}) error {
	return fmt.Errorf("template: %s at offset %d", fmt.Sprintf(format, a...), p.pos)
}

// parseNodes consumes text until end of input or, when inBlock is set, until
// a block terminator (#else, #elseif, #end) which it leaves for the caller.
func (p *parser) parseNodes(inBlock bool) ([]node, error) {
	var nodes []node
	var text strings.Builder

	flush := func() {
		if text.Len() > 0 {
			nodes = append(nodes, textNode(text.String()))
			text.Reset()
		}
	}

	for p.pos < len(p.src) {
		c := p.src[p.pos]

		if c == '$' && p.pos+1 < len(p.src) && isIdentStart(p.src[p.pos+1]) {
			flush()
			p.pos++
			ref, err := p.parseReference()
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, interpNode{ref: ref})
			continue
		}

		if c == '#' {
			keyword := p.peekKeyword()
			switch keyword {
			case "set":
				flush()
				p.pos += len("#set")
				n, err := p.parseSet()
				if err != nil {
					return nil, err
				}
				nodes = append(nodes, n)
				continue
			case "if":
				flush()
				p.pos += len("#if")
				n, err := p.parseIf()
				if err != nil {
					return nil, err
				}
				nodes = append(nodes, n)
				continue
			case "else", "elseif", "end":
				if !inBlock {
					return nil, p.errorf("#%s outside of #if block", keyword)
				}
				flush()
				return nodes, nil
			}
		}

		text.WriteByte(c)
		p.pos++
	}

	if inBlock {
		return nil, p.errorf("unterminated #if block")
	}
	flush()
	return nodes, nil
}

// peekKeyword reports which directive keyword, if any, follows the '#' at
// the current position without consuming anything.
func (p *parser) peekKeyword() string {
	rest := p.src[p.pos+1:]
	for _, kw := range []string{"elseif", "else", "end", "set", "if"} {
		if strings.HasPrefix(rest, kw) {
			return kw
		}
	}
	return ""
}

func (p *parser) parseSet() (node, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	p.skipSpace()
	if err := p.expect('$'); err != nil {
		return nil, err
	}
	name := p.readIdent()
	if name == "" {
		return nil, p.errorf("expected variable name in #set")
	}
	p.skipSpace()
	if err := p.expect('='); err != nil {
		return nil, err
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return setNode{name: name, expr: e}, nil
}

func (p *parser) parseIf() (node, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if err := p.expect(')'); err != nil {
		return nil, err
	}

	then, err := p.parseNodes(true)
	if err != nil {
		return nil, err
	}

	var els []node
	switch p.peekKeyword() {
	case "elseif":
		p.pos += len("#elseif")
		nested, err := p.parseIf()
		if err != nil {
			return nil, err
		}
		els = []node{nested}
		return ifNode{cond: cond, then: then, els: els}, nil
	case "else":
		p.pos += len("#else")
		els, err = p.parseNodes(true)
		if err != nil {
			return nil, err
		}
		if p.peekKeyword() != "end" {
			return nil, p.errorf("expected #end")
		}
		p.pos += len("#end")
	case "end":
		p.pos += len("#end")
	default:
		return nil, p.errorf("unterminated #if block")
	}
	return ifNode{cond: cond, then: then, els: els}, nil
}

func (p *parser) parseExpr() (expr, error) {
	p.skipSpace()
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	p.skipSpace()

	for _, op := range []string{"==", "!="} {
		if strings.HasPrefix(p.src[p.pos:], op) {
			p.pos += len(op)
			right, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			return binExpr{op: op, left: left, right: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parsePrimary() (expr, error) {
	if p.pos >= len(p.src) {
		return nil, p.errorf("unexpected end of template in expression")
	}

	switch c := p.src[p.pos]; {
	case c == '$':
		p.pos++
		ref, err := p.parseReference()
		if err != nil {
			return nil, err
		}
		return ref, nil

	case c == '\'' || c == '"':
		p.pos++
		start := p.pos
		for p.pos < len(p.src) && p.src[p.pos] != c {
			p.pos++
		}
		if p.pos >= len(p.src) {
			return nil, p.errorf("unterminated string literal")
		}
		s := p.src[start:p.pos]
		p.pos++
		return litExpr{val: String(s)}, nil

	case c == '-' || (c >= '0' && c <= '9'):
		start := p.pos
		if c == '-' {
			p.pos++
		}
		for p.pos < len(p.src) && (p.src[p.pos] >= '0' && p.src[p.pos] <= '9' || p.src[p.pos] == '.') {
			p.pos++
		}
		var n float64
		if _, err := fmt.Sscanf(p.src[start:p.pos], "%g", &n); err != nil {
			return nil, p.errorf("invalid number %q", p.src[start:p.pos])
		}
		return litExpr{val: Number(n)}, nil

	default:
		if strings.HasPrefix(p.src[p.pos:], "true") {
			p.pos += 4
			return litExpr{val: Bool(true)}, nil
		}
		if strings.HasPrefix(p.src[p.pos:], "false") {
			p.pos += 5
			return litExpr{val: Bool(false)}, nil
		}
		return nil, p.errorf("unexpected character %q in expression", p.src[p.pos])
	}
}

// parseReference parses a reference after its leading '$': a base name
// followed by a chain of property accesses, method calls and index lookups.
// A trailing dot that does not start another accessor is left unconsumed so
// that text like "$result." renders the dot literally.
func (p *parser) parseReference() (refExpr, error) {
	name := p.readIdent()
	if name == "" {
		return refExpr{}, p.errorf("expected identifier after $")
	}

	ref := refExpr{name: name}
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '.' && p.pos+1 < len(p.src) && isIdentStart(p.src[p.pos+1]) {
			save := p.pos
			p.pos++
			ident := p.readIdent()
			if p.pos < len(p.src) && p.src[p.pos] == '(' {
				args, err := p.parseArgs()
				if err != nil {
					return refExpr{}, err
				}
				ref.chain = append(ref.chain, accessor{kind: accessCall, name: ident, args: args})
				continue
			}
			if ident == "" {
				p.pos = save
				break
			}
			ref.chain = append(ref.chain, accessor{kind: accessProperty, name: ident})
			continue
		}
		if c == '[' {
			p.pos++
			idx, err := p.parseExpr()
			if err != nil {
				return refExpr{}, err
			}
			p.skipSpace()
			if err := p.expect(']'); err != nil {
				return refExpr{}, err
			}
			ref.chain = append(ref.chain, accessor{kind: accessIndex, index: idx})
			continue
		}
		break
	}
	return ref, nil
}

func (p *parser) parseArgs() ([]expr, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == ')' {
		p.pos++
		return nil, nil
	}

	var args []expr
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ',' {
			p.pos++
			continue
		}
		break
	}
	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *parser) expect(c byte) error {
	if p.pos >= len(p.src) || p.src[p.pos] != c {
		return p.errorf("expected %q", string(c))
	}
	p.pos++
	return nil
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n' || p.src[p.pos] == '\r') {
		p.pos++
	}
}

func (p *parser) readIdent() string {
	start := p.pos
	if p.pos < len(p.src) && isIdentStart(p.src[p.pos]) {
		p.pos++
		for p.pos < len(p.src) && isIdentPart(p.src[p.pos]) {
			p.pos++
		}
	}
	return p.src[start:p.pos]
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9' || c == '-'
}

//
// Evaluator
//

type evaluator struct {
	ctx  *Context
	vars map[string]Value
}

func (ev *evaluator) renderNodes(nodes []node, sb *strings.Builder) {
	for _, n := range nodes {
		switch n := n.(type) {
		case textNode:
			sb.WriteString(string(n))
		case interpNode:
			sb.WriteString(ev.evalRef(n.ref).Render())
		case setNode:
			ev.vars[n.name] = ev.eval(n.expr)
		case ifNode:
			if ev.eval(n.cond).Truthy() {
				ev.renderNodes(n.then, sb)
			} else {
				ev.renderNodes(n.els, sb)
			}
		}
	}
}

func (ev *evaluator) eval(e expr) Value {
	switch e := e.(type) {
	case litExpr:
		return e.val
	case refExpr:
		return ev.evalRef(e)
	case binExpr:
		eq := ev.eval(e.left).Equal(ev.eval(e.right))
		if e.op == "!=" {
			eq = !eq
		}
		return Bool(eq)
	}
	return Null
}

func (ev *evaluator) evalRef(ref refExpr) Value {
	chain := ref.chain

	var current Value
	switch ref.name {
	case "null":
		current = Null
	case "input":
		if len(chain) == 0 {
			return Null
		}
		current = ev.evalInput(chain[0])
		chain = chain[1:]
	case "util":
		if len(chain) == 0 {
			return Null
		}
		current = ev.evalUtil(chain[0])
		chain = chain[1:]
	case "context":
		if len(chain) == 0 || chain[0].kind != accessProperty {
			return Null
		}
		field, ok := ev.ctx.Fields[chain[0].name]
		if !ok {
			return Null
		}
		current = String(field)
		chain = chain[1:]
	case "stageVariables":
		if len(chain) == 0 || chain[0].kind != accessProperty {
			return Null
		}
		variable, ok := ev.ctx.StageVariables[chain[0].name]
		if !ok {
			return Null
		}
		current = String(variable)
		chain = chain[1:]
	default:
		current = ev.vars[ref.name]
	}

	for _, acc := range chain {
		current = ev.applyAccessor(current, acc)
	}
	return current
}

func (ev *evaluator) applyAccessor(v Value, acc accessor) Value {
	switch acc.kind {
	case accessProperty:
		field, ok := v.Field(acc.name)
		if !ok {
			return Null
		}
		return field
	case accessIndex:
		idx := ev.eval(acc.index)
		if idx.Kind() != KindNumber {
			return Null
		}
		item, ok := v.Index(int(idx.Num()))
		if !ok {
			return Null
		}
		return item
	case accessCall:
		if acc.name == "toString" {
			if v.Kind() == KindString {
				return v
			}
			return String(v.stringify())
		}
		return Null
	}
	return Null
}

func (ev *evaluator) evalInput(acc accessor) Value {
	switch {
	case acc.kind == accessProperty && acc.name == "body":
		return String(string(ev.ctx.Body))
	case acc.kind == accessCall && acc.name == "body":
		return String(string(ev.ctx.Body))
	case acc.kind == accessCall && acc.name == "path":
		if len(acc.args) != 1 {
			return Null
		}
		return ev.ctx.Path(ev.eval(acc.args[0]).Render())
	case acc.kind == accessCall && acc.name == "params":
		if len(acc.args) == 0 {
			return ev.ctx.AllParams()
		}
		return ev.ctx.Param(ev.eval(acc.args[0]).Render())
	}
	return Null
}

func (ev *evaluator) evalUtil(acc accessor) Value {
	if acc.kind != accessCall || len(acc.args) != 1 {
		return Null
	}
	arg := ev.eval(acc.args[0]).Render()
	switch acc.name {
	case "urlEncode":
		return String(url.QueryEscape(arg))
	case "urlDecode":
		decoded, err := url.QueryUnescape(arg)
		if err != nil {
			return Null
		}
		return String(decoded)
	}
	return Null
}
