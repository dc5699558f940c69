package resp3

import "strconv"

// Value is a lazily-decoded view over a Token. Constructing it never
// copies or re-validates; ValueOf just classifies the token's header so
// typed decoders and aggregate iterators can walk it on demand.
type Value struct {
	kind    Kind
	raw     []byte // full token bytes
	payload []byte // scalar content, header/trailer stripped
	count   int    // aggregate element (pair, for map/attribute) count; -1 if null
}

// ValueOf constructs a Value over a Token produced by Parse. It is O(1):
// only the token's own header is inspected, never its children.
func ValueOf(t Token) Value {
	raw := t.Bytes()
	kind := t.Kind()
	v := Value{kind: kind, raw: raw}

	switch kind {
	case KindSimpleString, KindSimpleError, KindInteger, KindDouble, KindBigNumber:
		v.payload = raw[1 : len(raw)-2]
	case KindBoolean:
		v.payload = raw[1:2]
	case KindNull:
		v.count = -1
	case KindBulkString, KindBulkError, KindVerbatimString:
		headerN, line, _ := readLine(raw)
		size, _ := parseLength(line, kind == KindBulkString)
		if size == -1 {
			v.count = -1
			break
		}
		v.payload = raw[headerN : headerN+size]
	case KindArray, KindSet, KindPush:
		_, line, _ := readLine(raw)
		count, _ := parseLength(line, kind == KindArray)
		v.count = count
	case KindMap, KindAttribute:
		_, line, _ := readLine(raw)
		count, _ := parseLength(line, false)
		v.count = count
	}
	return v
}

// Kind reports the value's wire type.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is RESP3 null, or a null bulk string /
// null array (both framed as a -1 length with no payload).
func (v Value) IsNull() bool {
	return v.kind == KindNull || v.count == -1
}

// elementsStart returns the byte length of the count line including
// its own leading byte and CRLF, i.e. where this aggregate's elements
// begin within raw.
func (v Value) elementsStart() int {
	n, _, _ := readLine(v.raw)
	return n
}

// Elements returns an iterator over an array, set, or push value's members.
func (v Value) Elements() (*ArrayIter, error) {
	switch v.kind {
	case KindArray, KindSet, KindPush:
	default:
		return nil, newTokenMismatch(v.kind, KindArray, KindSet, KindPush)
	}
	if v.IsNull() {
		return &ArrayIter{}, nil
	}
	return &ArrayIter{buf: v.raw[v.elementsStart():], remaining: v.count}, nil
}

// Pairs returns an iterator over a map or attribute value's key/value pairs.
func (v Value) Pairs() (*MapIter, error) {
	switch v.kind {
	case KindMap, KindAttribute:
	default:
		return nil, newTokenMismatch(v.kind, KindMap, KindAttribute)
	}
	return &MapIter{buf: v.raw[v.elementsStart():], remaining: v.count}, nil
}

// Len reports the element count of an array/set/push, or the pair count of
// a map/attribute. It is -1 for a null array.
func (v Value) Len() int { return v.count }

// ArrayIter lazily re-parses one element per Next call from its parent's
// owned backing array; no copying occurs beyond the parent Token's own.
type ArrayIter struct {
	buf       []byte
	remaining int
}

// Next returns the next element, or ok=false once exhausted.
func (it *ArrayIter) Next() (Value, bool, error) {
	if it.remaining <= 0 {
		return Value{}, false, nil
	}
	n, err := frameLen(it.buf, 0)
	if err != nil {
		return Value{}, false, err
	}
	tok := Token{bytes: it.buf[:n]}
	it.buf = it.buf[n:]
	it.remaining--
	return ValueOf(tok), true, nil
}

// MapIter lazily re-parses one key/value pair per Next call.
type MapIter struct {
	buf       []byte
	remaining int
}

// Next returns the next key/value pair, or ok=false once exhausted.
func (it *MapIter) Next() (key, val Value, ok bool, err error) {
	if it.remaining <= 0 {
		return Value{}, Value{}, false, nil
	}
	kn, err := frameLen(it.buf, 0)
	if err != nil {
		return Value{}, Value{}, false, err
	}
	keyTok := Token{bytes: it.buf[:kn]}
	it.buf = it.buf[kn:]

	vn, err := frameLen(it.buf, 0)
	if err != nil {
		return Value{}, Value{}, false, err
	}
	valTok := Token{bytes: it.buf[:vn]}
	it.buf = it.buf[vn:]

	it.remaining--
	return ValueOf(keyTok), ValueOf(valTok), true, nil
}

// VerbatimPrefix returns the 3-byte type prefix of a verbatim string (e.g.
// "txt"), without its separating colon.
func (v Value) VerbatimPrefix() (string, error) {
	if v.kind != KindVerbatimString {
		return "", newTokenMismatch(v.kind, KindVerbatimString)
	}
	return string(v.payload[:3]), nil
}

// rawString renders a scalar payload as a string without kind checking;
// used internally by decoders that already validated Kind.
func (v Value) rawString() string { return string(v.payload) }

// integerPayload parses an Integer value's decimal payload as int64.
func (v Value) integerPayload() (int64, error) {
	n, err := strconv.ParseInt(string(v.payload), 10, 64)
	if err != nil {
		return 0, &DecodeError{Kind: CanNotParseInteger, Slice: v.payload}
	}
	return n, nil
}

// doublePayload parses a Double value's payload as float64.
func (v Value) doublePayload() (float64, error) {
	f, err := strconv.ParseFloat(string(v.payload), 64)
	if err != nil {
		return 0, &DecodeError{Kind: CanNotParseDouble, Slice: v.payload}
	}
	return f, nil
}
