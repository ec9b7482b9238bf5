// Package jsonvalue 提供 JSON 值的结构化表示，用于工具参数与参数 schema。
package jsonvalue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind 表示 JSON 值的类型。
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// String 返回类型名称。
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value 是 JSON 值的变体类型，零值为 null。
type Value struct {
	kind Kind
	b    bool
	n    json.Number
	s    string
	arr  []Value
	obj  Object
}

// Object 是 JSON 对象。
type Object map[string]Value

// Null 返回 null 值。
func Null() Value { return Value{} }

// Bool 构造布尔值。
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number 构造数值。
func Number(f float64) Value {
	return Value{kind: KindNumber, n: json.Number(strconv.FormatFloat(f, 'g', -1, 64))}
}

// Int 构造整数值。
func Int(i int64) Value {
	return Value{kind: KindNumber, n: json.Number(strconv.FormatInt(i, 10))}
}

// String 构造字符串值。
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array 构造数组值。
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

// ObjectValue 将 Object 包装为 Value。
func ObjectValue(obj Object) Value {
	if obj == nil {
		obj = Object{}
	}
	return Value{kind: KindObject, obj: obj}
}

// Kind 返回值的类型。
func (v Value) Kind() Kind { return v.kind }

// IsNull 判断是否为 null。
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool 返回布尔值。
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsNumber 返回浮点数值。
func (v Value) AsNumber() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := v.n.Float64()
	return f, err == nil
}

// AsInt 返回整数值，非整数时返回 false。
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	i, err := v.n.Int64()
	return i, err == nil
}

// AsString 返回字符串值。
func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

// AsArray 返回数组元素。
func (v Value) AsArray() ([]Value, bool) {
	return v.arr, v.kind == KindArray
}

// AsObject 返回对象。
func (v Value) AsObject() (Object, bool) {
	return v.obj, v.kind == KindObject
}

// Text 返回值的文本形式：字符串原样返回，其他类型返回 JSON 编码。
func (v Value) Text() string {
	if v.kind == KindString {
		return v.s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

// Interface 转换为 encoding/json 风格的普通 Go 值。
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		if i, err := v.n.Int64(); err == nil {
			return i
		}
		f, _ := v.n.Float64()
		return f
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		return v.obj.Interface()
	default:
		return nil
	}
}

// Equal 深度比较两个值。
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindNumber:
		a, _ := v.AsNumber()
		b, _ := other.AsNumber()
		return a == b
	case KindString:
		return v.s == other.s
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		return v.obj.Equal(other.obj)
	}
	return false
}

// MarshalJSON 实现 json.Marshaler。
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		if v.n == "" {
			return []byte("0"), nil
		}
		return []byte(v.n), nil
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case KindObject:
		return v.obj.MarshalJSON()
	default:
		return nil, fmt.Errorf("jsonvalue: unknown kind %d", v.kind)
	}
}

// UnmarshalJSON 实现 json.Unmarshaler。
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	decoded, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// FromAny 将普通 Go 值转换为 Value。
func FromAny(raw any) (Value, error) {
	switch typed := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return typed, nil
	case Object:
		return ObjectValue(typed), nil
	case bool:
		return Bool(typed), nil
	case json.Number:
		return Value{kind: KindNumber, n: typed}, nil
	case float64:
		return Number(typed), nil
	case float32:
		return Number(float64(typed)), nil
	case int:
		return Int(int64(typed)), nil
	case int32:
		return Int(int64(typed)), nil
	case int64:
		return Int(typed), nil
	case uint:
		return Int(int64(typed)), nil
	case string:
		return String(typed), nil
	case []string:
		items := make([]Value, len(typed))
		for i, s := range typed {
			items[i] = String(s)
		}
		return Array(items...), nil
	case []any:
		items := make([]Value, len(typed))
		for i, item := range typed {
			converted, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = converted
		}
		return Array(items...), nil
	case map[string]any:
		obj := make(Object, len(typed))
		for key, item := range typed {
			converted, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", key, err)
			}
			obj[key] = converted
		}
		return ObjectValue(obj), nil
	default:
		return Value{}, fmt.Errorf("jsonvalue: unsupported type %T", raw)
	}
}

// MustFromAny 与 FromAny 相同，但在失败时 panic，仅用于静态定义。
func MustFromAny(raw any) Value {
	v, err := FromAny(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// Get 返回指定键的值。
func (o Object) Get(key string) (Value, bool) {
	v, ok := o[key]
	return v, ok
}

// String 返回字符串字段。
func (o Object) String(key string) (string, bool) {
	v, ok := o[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

// Number 返回数值字段。
func (o Object) Number(key string) (float64, bool) {
	v, ok := o[key]
	if !ok {
		return 0, false
	}
	return v.AsNumber()
}

// Bool 返回布尔字段。
func (o Object) Bool(key string) (bool, bool) {
	v, ok := o[key]
	if !ok {
		return false, false
	}
	return v.AsBool()
}

// Keys 返回排序后的键。
func (o Object) Keys() []string {
	keys := make([]string, 0, len(o))
	for key := range o {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Clone 浅拷贝对象。
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	out := make(Object, len(o))
	for key, value := range o {
		out[key] = value
	}
	return out
}

// Interface 转换为 map[string]any。
func (o Object) Interface() map[string]any {
	out := make(map[string]any, len(o))
	for key, value := range o {
		out[key] = value.Interface()
	}
	return out
}

// Equal 深度比较两个对象。
func (o Object) Equal(other Object) bool {
	if len(o) != len(other) {
		return false
	}
	for key, value := range o {
		otherValue, ok := other[key]
		if !ok || !value.Equal(otherValue) {
			return false
		}
	}
	return true
}

// MarshalJSON 保证 nil 对象编码为 {}。
func (o Object) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]Value(o))
}

// ParseObject 解析 JSON 对象，null 或空输入返回空对象。
func ParseObject(data []byte) (Object, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Object{}, nil
	}
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	switch v.Kind() {
	case KindNull:
		return Object{}, nil
	case KindObject:
		obj, _ := v.AsObject()
		return obj, nil
	default:
		return nil, fmt.Errorf("jsonvalue: expected object, got %s", v.Kind())
	}
}

// ObjectFromMap 将 map[string]any 转换为 Object。
func ObjectFromMap(raw map[string]any) (Object, error) {
	if raw == nil {
		return Object{}, nil
	}
	v, err := FromAny(raw)
	if err != nil {
		return nil, err
	}
	obj, _ := v.AsObject()
	return obj, nil
}
