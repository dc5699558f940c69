package resp3

// AsInt64 decodes an Integer value.
func (v Value) AsInt64() (int64, error) {
	if v.kind != KindInteger {
		return 0, newTokenMismatch(v.kind, KindInteger)
	}
	return v.integerPayload()
}

// AsFloat64 decodes a Double value.
func (v Value) AsFloat64() (float64, error) {
	if v.kind != KindDouble {
		return 0, newTokenMismatch(v.kind, KindDouble)
	}
	return v.doublePayload()
}

// AsBool decodes a Boolean value.
func (v Value) AsBool() (bool, error) {
	if v.kind != KindBoolean {
		return false, newTokenMismatch(v.kind, KindBoolean)
	}
	return v.payload[0] == 't', nil
}

// AsString decodes a SimpleString, BulkString, or VerbatimString value. For
// a VerbatimString the 3-byte type prefix and its colon are stripped.
func (v Value) AsString() (string, error) {
	switch v.kind {
	case KindSimpleString, KindBulkString:
		if v.IsNull() {
			return "", nil
		}
		return v.rawString(), nil
	case KindVerbatimString:
		return string(v.payload[4:]), nil
	default:
		return "", newTokenMismatch(v.kind, KindSimpleString, KindBulkString, KindVerbatimString)
	}
}

// AsBulkString decodes a BulkString value's raw bytes. A null bulk string
// decodes to (nil, nil).
func (v Value) AsBulkString() ([]byte, error) {
	if v.kind != KindBulkString {
		return nil, newTokenMismatch(v.kind, KindBulkString)
	}
	if v.IsNull() {
		return nil, nil
	}
	return v.payload, nil
}

// AsBulkError decodes a BulkError value's raw bytes.
func (v Value) AsBulkError() ([]byte, error) {
	if v.kind != KindBulkError {
		return nil, newTokenMismatch(v.kind, KindBulkError)
	}
	return v.payload, nil
}

// AsSimpleError decodes a SimpleError value's message.
func (v Value) AsSimpleError() (string, error) {
	if v.kind != KindSimpleError {
		return "", newTokenMismatch(v.kind, KindSimpleError)
	}
	return v.rawString(), nil
}

// AsBigNumber decodes a BigNumber value's ASCII digit payload, sign
// included, without interpreting magnitude.
func (v Value) AsBigNumber() (string, error) {
	if v.kind != KindBigNumber {
		return "", newTokenMismatch(v.kind, KindBigNumber)
	}
	return v.rawString(), nil
}

// AsArray returns an iterator over an Array value. Use Elements directly
// for Set/Push.
func (v Value) AsArray() (*ArrayIter, error) {
	if v.kind != KindArray {
		return nil, newTokenMismatch(v.kind, KindArray)
	}
	return v.Elements()
}

// AsSet returns an iterator over a Set value.
func (v Value) AsSet() (*ArrayIter, error) {
	if v.kind != KindSet {
		return nil, newTokenMismatch(v.kind, KindSet)
	}
	return v.Elements()
}

// AsPush returns an iterator over a Push value.
func (v Value) AsPush() (*ArrayIter, error) {
	if v.kind != KindPush {
		return nil, newTokenMismatch(v.kind, KindPush)
	}
	return v.Elements()
}

// AsMap returns an iterator over a Map value's key/value pairs.
func (v Value) AsMap() (*MapIter, error) {
	if v.kind != KindMap {
		return nil, newTokenMismatch(v.kind, KindMap)
	}
	return v.Pairs()
}

// AsAttribute returns an iterator over an Attribute value's key/value
// pairs: attributes are a side-channel the caller may inspect, not a value
// counted in FIFO pairing.
func (v Value) AsAttribute() (*MapIter, error) {
	if v.kind != KindAttribute {
		return nil, newTokenMismatch(v.kind, KindAttribute)
	}
	return v.Pairs()
}

// AsOptional decodes v as *T, returning nil if v is null.
func AsOptional[T any](v Value, decode func(Value) (T, error)) (*T, error) {
	if v.IsNull() {
		return nil, nil
	}
	t, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// AsSlice decodes every element of an Array, Set, or Push value with decode,
// collecting them in wire order.
func AsSlice[T any](v Value, decode func(Value) (T, error)) ([]T, error) {
	it, err := v.Elements()
	if err != nil {
		return nil, err
	}
	var out []T
	for {
		elem, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		t, err := decode(elem)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// AsDict decodes every pair of a Map or Attribute value with decodeKey and
// decodeVal into a Go map.
func AsDict[K comparable, V any](v Value, decodeKey func(Value) (K, error), decodeVal func(Value) (V, error)) (map[K]V, error) {
	it, err := v.Pairs()
	if err != nil {
		return nil, err
	}
	out := make(map[K]V)
	for {
		k, val, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		kk, err := decodeKey(k)
		if err != nil {
			return nil, err
		}
		vv, err := decodeVal(val)
		if err != nil {
			return nil, err
		}
		out[kk] = vv
	}
	return out, nil
}

// ExpectArraySize asserts that an array-like value has exactly n elements,
// returning *InvalidArraySize otherwise. n is read without consuming the
// iterator so it can still be walked afterwards.
func ExpectArraySize(v Value, n int) error {
	if v.Len() != n {
		return &InvalidArraySize{Got: v.Len(), Expected: n}
	}
	return nil
}

// ExpectMinArraySize asserts that an array-like value has at least n
// elements.
func ExpectMinArraySize(v Value, n int) error {
	if v.Len() < n {
		return &InvalidArraySize{Got: v.Len(), MinExpected: n, HasMinimum: true}
	}
	return nil
}
