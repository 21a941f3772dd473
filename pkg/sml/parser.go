package sml

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/takumi-sec/gosecs/pkg/ast"
)

// Parse parses a single SML message: "Sstream Ffunction [W] [<item>] .".
// Trailing non-whitespace content after the terminator is a
// KindTrailingBytes error.
func Parse(input string) (*ast.DataMessage, error) {
	p := &parser{input: input, lexer: lex(input)}

	stream, function, err := p.parseStreamFunctionCode()
	if err != nil {
		return nil, err
	}

	waitBit := false
	if t, ok := p.accept(tokenTypeWaitBit); ok {
		if t.val == "W" {
			if function%2 == 0 {
				return nil, newError(KindInvalidBool, t, "wait bit cannot be true on a reply message (even function code)")
			}
			waitBit = true
		}
		// "[W]" (optional wait bit) is accepted but treated as unset, since
		// DataMessage has no tri-state wait bit.
	}

	item, err := p.parseMessageText()
	if err != nil {
		return nil, err
	}

	if t, ok := p.accept(tokenTypeMessageEnd); !ok {
		return nil, newError(KindMissingTerminator, t, "expected '.', found %q", t.val)
	}

	if t := p.peek(); t.typ != tokenTypeEOF {
		return nil, newError(KindTrailingBytes, t, "unexpected content after message terminator: %q", t.val)
	}

	return ast.NewDataMessage(stream, function, waitBit, item), nil
}

// Print renders a DataMessage as SML text.
func Print(msg *ast.DataMessage) string {
	return msg.String()
}

type parser struct {
	input      string
	lexer      *lexer
	tokenQueue []token
}

func (p *parser) peek() token {
	if len(p.tokenQueue) == 0 {
		var t token
		for {
			if t = p.lexer.nextToken(); t.typ != tokenTypeComment {
				break
			}
		}
		p.tokenQueue = append(p.tokenQueue, t)
	}
	return p.tokenQueue[0]
}

func (p *parser) acceptAny() token {
	t := p.peek()
	p.tokenQueue = p.tokenQueue[1:]
	return t
}

func (p *parser) accept(typ tokenType) (token, bool) {
	t := p.peek()
	if t.typ == typ {
		return p.acceptAny(), true
	}
	return t, false
}

func (p *parser) parseStreamFunctionCode() (stream, function int, err error) {
	t, ok := p.accept(tokenTypeStreamFunction)
	if !ok {
		if t.typ == tokenTypeError {
			return 0, 0, newError(KindLexical, t, "%s", t.val)
		}
		return 0, 0, newError(KindLexical, t, "expected stream/function code, found %q", t.val)
	}

	i := strings.Index(t.val, "F")
	stream, _ = strconv.Atoi(t.val[1:i])
	function, _ = strconv.Atoi(t.val[i+1:])
	if !(0 <= stream && stream < 128) {
		return 0, 0, newError(KindLexical, t, "stream code out of range [0, 128): %d", stream)
	}
	if !(0 <= function && function < 256) {
		return 0, 0, newError(KindLexical, t, "function code out of range [0, 256): %d", function)
	}
	return stream, function, nil
}

func (p *parser) parseMessageText() (ast.ItemNode, error) {
	switch t := p.peek(); t.typ {
	case tokenTypeMessageEnd, tokenTypeEOF:
		return nil, nil
	case tokenTypeLeftAngleBracket:
		return p.parseDataItem()
	default:
		return nil, newError(KindLexical, t, "expected '<' or '.', found %q", t.val)
	}
}

func (p *parser) parseDataItem() (item ast.ItemNode, err error) {
	open, ok := p.accept(tokenTypeLeftAngleBracket)
	if !ok {
		return nil, newError(KindUnbalancedBracket, open, "expected '<', found %q", open.val)
	}

	defer func() {
		if r := recover(); r != nil {
			item = nil
			err = newError(KindLexical, open, "%v", r)
		}
	}()

	typeTok, ok := p.accept(tokenTypeDataItemType)
	if !ok {
		return nil, newError(KindUnknownType, typeTok, "expected a data item type, found %q", typeTok.val)
	}

	// The optional size annotation ("[2]") is accepted and discarded: it is
	// advisory in SML and not needed to decode the following values.
	p.accept(tokenTypeDataItemSize)

	switch typeTok.val {
	case "L":
		item, err = p.parseList()
	case "A":
		item, err = p.parseASCII()
	case "B":
		item, err = p.parseBinary()
	case "BOOLEAN":
		item, err = p.parseBoolean()
	case "F4":
		item, err = p.parseFloat(ast.KindF4)
	case "F8":
		item, err = p.parseFloat(ast.KindF8)
	case "I1":
		item, err = p.parseInt(ast.KindI1, 8)
	case "I2":
		item, err = p.parseInt(ast.KindI2, 16)
	case "I4":
		item, err = p.parseInt(ast.KindI4, 32)
	case "I8":
		item, err = p.parseInt(ast.KindI8, 64)
	case "U1":
		item, err = p.parseUint(ast.KindU1, 8)
	case "U2":
		item, err = p.parseUint(ast.KindU2, 16)
	case "U4":
		item, err = p.parseUint(ast.KindU4, 32)
	case "U8":
		item, err = p.parseUint(ast.KindU8, 64)
	default:
		return nil, newError(KindUnknownType, typeTok, "unknown data item type %q", typeTok.val)
	}
	if err != nil {
		return nil, err
	}

	if t, ok := p.accept(tokenTypeRightAngleBracket); !ok {
		return nil, newError(KindUnbalancedBracket, t, "expected '>', found %q", t.val)
	}
	return item, nil
}

func (p *parser) parseList() (ast.ItemNode, error) {
	values := []ast.ItemNode{}
	for {
		switch t := p.peek(); t.typ {
		case tokenTypeLeftAngleBracket:
			child, err := p.parseDataItem()
			if err != nil {
				return nil, err
			}
			values = append(values, child)
		case tokenTypeRightAngleBracket:
			return ast.NewListNode(values...), nil
		case tokenTypeError:
			return nil, newError(KindLexical, t, "%s", t.val)
		default:
			return nil, newError(KindUnbalancedBracket, t, "expected child item or '>', found %q", t.val)
		}
	}
}

// valueTokens collects tokens until the closing '>'.
func (p *parser) valueTokens() ([]token, error) {
	tokens := []token{}
	for {
		switch t := p.peek(); t.typ {
		case tokenTypeRightAngleBracket:
			return tokens, nil
		case tokenTypeError:
			return nil, newError(KindLexical, t, "%s", t.val)
		case tokenTypeEOF:
			return nil, newError(KindUnbalancedBracket, t, "unexpected end of input inside data item")
		default:
			tokens = append(tokens, p.acceptAny())
		}
	}
}

func (p *parser) parseASCII() (ast.ItemNode, error) {
	tokens, err := p.valueTokens()
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, t := range tokens {
		switch t.typ {
		case tokenTypeQuotedString:
			val, uerr := strconv.Unquote(t.val)
			if uerr != nil {
				return nil, newError(KindLexical, t, "invalid quoted string: %q", t.val)
			}
			for _, r := range val {
				if r > unicode.MaxASCII {
					return nil, newError(KindNotASCII, t, "expected ASCII characters, found %q", r)
				}
			}
			sb.WriteString(val)
		case tokenTypeNumber:
			val, perr := strconv.ParseUint(t.val, 0, 8)
			if perr != nil {
				return nil, newError(KindNotASCII, t, "invalid ASCII character code %q", t.val)
			}
			sb.WriteByte(byte(val))
		default:
			return nil, newError(KindUnknownType, t, "expected quoted string or ASCII character code, found %q", t.val)
		}
	}
	return ast.NewASCIINode(sb.String()), nil
}

func (p *parser) parseBinary() (ast.ItemNode, error) {
	tokens, err := p.valueTokens()
	if err != nil {
		return nil, err
	}
	result := make([]byte, 0, len(tokens))
	for _, t := range tokens {
		if t.typ != tokenTypeNumber {
			return nil, newError(KindUnknownType, t, "expected a byte value, found %q", t.val)
		}
		val, perr := strconv.ParseUint(t.val, 0, 8)
		if perr != nil {
			return nil, newError(KindLexical, t, "binary value out of range [0, 256): %q", t.val)
		}
		result = append(result, byte(val))
	}
	return ast.NewBinaryNode(result), nil
}

func (p *parser) parseBoolean() (ast.ItemNode, error) {
	tokens, err := p.valueTokens()
	if err != nil {
		return nil, err
	}
	values := make([]bool, len(tokens))
	for i, t := range tokens {
		if t.typ != tokenTypeBool {
			return nil, newError(KindInvalidBool, t, "expected T or F, found %q", t.val)
		}
		values[i] = t.val == "T"
	}
	return ast.NewBooleanNode(values...), nil
}

func (p *parser) parseFloat(kind ast.ItemKind) (ast.ItemNode, error) {
	tokens, err := p.valueTokens()
	if err != nil {
		return nil, err
	}
	bitSize := 64
	if kind == ast.KindF4 {
		bitSize = 32
	}
	values := make([]float64, len(tokens))
	for i, t := range tokens {
		if t.typ != tokenTypeNumber {
			return nil, newError(KindUnknownType, t, "expected a float, found %q", t.val)
		}
		val, perr := strconv.ParseFloat(t.val, bitSize)
		if perr != nil {
			return nil, newError(KindLexical, t, "invalid float literal %q", t.val)
		}
		values[i] = val
	}
	return ast.NewFloatNode(kind, values...), nil
}

func (p *parser) parseInt(kind ast.ItemKind, bits int) (ast.ItemNode, error) {
	tokens, err := p.valueTokens()
	if err != nil {
		return nil, err
	}
	values := make([]int64, len(tokens))
	for i, t := range tokens {
		if t.typ != tokenTypeNumber {
			return nil, newError(KindUnknownType, t, "expected an integer, found %q", t.val)
		}
		val, perr := strconv.ParseInt(t.val, 0, bits)
		if perr != nil {
			return nil, newError(KindLexical, t, "%s out of range: %q", kind, t.val)
		}
		values[i] = val
	}
	return ast.NewIntNode(kind, values...), nil
}

func (p *parser) parseUint(kind ast.ItemKind, bits int) (ast.ItemNode, error) {
	tokens, err := p.valueTokens()
	if err != nil {
		return nil, err
	}
	values := make([]uint64, len(tokens))
	for i, t := range tokens {
		if t.typ != tokenTypeNumber {
			return nil, newError(KindUnknownType, t, "expected an unsigned integer, found %q", t.val)
		}
		val, perr := strconv.ParseUint(t.val, 0, bits)
		if perr != nil {
			return nil, newError(KindLexical, t, "%s out of range: %q", kind, t.val)
		}
		values[i] = val
	}
	return ast.NewUintNode(kind, values...), nil
}
