package codec

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"hftcore/internal/model"
	"hftcore/pkg/exception"
)

var (
	typeUnixNanos = reflect.TypeOf(model.UnixNanos(0))
	typePrice     = reflect.TypeOf(model.Price{})
	typeQuantity  = reflect.TypeOf(model.Quantity{})
	typeMoney     = reflect.TypeOf(model.Money{})

	textMarshaler   = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	textUnmarshaler = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// fieldKey converts a Go field name to snake case, keeping acronyms together:
// ClientOrderID -> client_order_id, RealizedPnL -> realized_pnl.
func fieldKey(name string) string {
	name = strings.ReplaceAll(name, "PnL", "Pnl")
	rs := []rune(name)
	var sb strings.Builder
	for i, r := range rs {
		if unicode.IsUpper(r) && i > 0 {
			prev := rs[i-1]
			nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				sb.WriteByte('_')
			}
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}

// encodeStruct writes exported, non-zero fields into out. Embedded structs
// are flattened.
func (c *Codec) encodeStruct(rv reflect.Value, out map[string]any) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		fv := rv.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct && !f.Type.Implements(textMarshaler) {
			if err := c.encodeStruct(fv, out); err != nil {
				return err
			}
			continue
		}
		if fv.IsZero() {
			continue
		}
		v, err := c.encodeValue(fv)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		out[fieldKey(f.Name)] = v
	}
	return nil
}

func (c *Codec) encodeValue(v reflect.Value) (any, error) {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, nil
		}
		return c.encodeValue(v.Elem())
	}

	switch v.Type() {
	case typeUnixNanos:
		ts := model.UnixNanos(v.Uint())
		if c.opts.Timestamps == TimestampISO8601 {
			return ts.ISO8601(), nil
		}
		return uint64(ts), nil
	case typePrice:
		if c.opts.Numerics == NumericRaw {
			p := v.Interface().(model.Price)
			return []any{p.Raw, p.Precision}, nil
		}
	case typeQuantity:
		if c.opts.Numerics == NumericRaw {
			q := v.Interface().(model.Quantity)
			return []any{q.Raw, q.Precision}, nil
		}
	case typeMoney:
		if c.opts.Numerics == NumericRaw {
			m := v.Interface().(model.Money)
			return []any{m.Raw, m.Currency.Code}, nil
		}
	}

	if v.Type().Implements(textMarshaler) {
		b, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}

	switch v.Kind() {
	case reflect.Struct:
		m := map[string]any{}
		if err := c.encodeStruct(v, m); err != nil {
			return nil, err
		}
		return m, nil
	case reflect.Slice, reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			x, err := c.encodeValue(v.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = x
		}
		return out, nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map key %s", exception.ErrInvalidArgument, v.Type().Key())
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			x, err := c.encodeValue(iter.Value())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = x
		}
		return out, nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.String:
		return v.String(), nil
	}
	return nil, fmt.Errorf("%w: unsupported kind %s", exception.ErrInvalidArgument, v.Kind())
}

func (c *Codec) decodeStruct(m map[string]any, rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		fv := rv.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct && !reflect.PointerTo(f.Type).Implements(textUnmarshaler) {
			if err := c.decodeStruct(m, fv); err != nil {
				return err
			}
			continue
		}
		raw, ok := m[fieldKey(f.Name)]
		if !ok || raw == nil {
			continue
		}
		if err := c.decodeValue(raw, fv); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	return nil
}

func (c *Codec) decodeValue(raw any, v reflect.Value) error {
	switch v.Type() {
	case typeUnixNanos:
		ts, err := parseTimestamp(raw)
		if err != nil {
			return err
		}
		v.SetUint(uint64(ts))
		return nil
	case typePrice, typeQuantity, typeMoney:
		if pair, ok := raw.([]any); ok {
			return decodeRawPair(pair, v)
		}
	}

	if v.Kind() != reflect.Pointer && reflect.PointerTo(v.Type()).Implements(textUnmarshaler) {
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%w: expected string for %s, got %T", exception.ErrInvalidArgument, v.Type(), raw)
		}
		return v.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s))
	}

	switch v.Kind() {
	case reflect.Pointer:
		elem := reflect.New(v.Type().Elem())
		if err := c.decodeValue(raw, elem.Elem()); err != nil {
			return err
		}
		v.Set(elem)
		return nil
	case reflect.Struct:
		m, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: expected object for %s, got %T", exception.ErrInvalidArgument, v.Type(), raw)
		}
		return c.decodeStruct(m, v)
	case reflect.Slice, reflect.Array:
		list, ok := raw.([]any)
		if !ok {
			return fmt.Errorf("%w: expected array for %s, got %T", exception.ErrInvalidArgument, v.Type(), raw)
		}
		if v.Kind() == reflect.Slice {
			v.Set(reflect.MakeSlice(v.Type(), len(list), len(list)))
		} else if len(list) > v.Len() {
			return fmt.Errorf("%w: %d items for %s", exception.ErrInvalidArgument, len(list), v.Type())
		}
		for i, item := range list {
			if item == nil {
				continue
			}
			if err := c.decodeValue(item, v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		m, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: expected object for %s, got %T", exception.ErrInvalidArgument, v.Type(), raw)
		}
		out := reflect.MakeMapWithSize(v.Type(), len(m))
		for k, item := range m {
			ev := reflect.New(v.Type().Elem()).Elem()
			if err := c.decodeValue(item, ev); err != nil {
				return err
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(v.Type().Key()), ev)
		}
		v.Set(out)
		return nil
	case reflect.Bool:
		b, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("%w: expected bool, got %T", exception.ErrInvalidArgument, raw)
		}
		v.SetBool(b)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt(raw)
		if err != nil {
			return err
		}
		v.SetInt(n)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toUint(raw)
		if err != nil {
			return err
		}
		v.SetUint(n)
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := toFloat(raw)
		if err != nil {
			return err
		}
		v.SetFloat(f)
		return nil
	case reflect.String:
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%w: expected string, got %T", exception.ErrInvalidArgument, raw)
		}
		v.SetString(s)
		return nil
	}
	return fmt.Errorf("%w: unsupported kind %s", exception.ErrInvalidArgument, v.Kind())
}

func decodeRawPair(pair []any, v reflect.Value) error {
	if len(pair) != 2 {
		return fmt.Errorf("%w: raw pair has %d items", exception.ErrInvalidArgument, len(pair))
	}
	rawInt, err := toInt(pair[0])
	if err != nil {
		return err
	}
	switch v.Type() {
	case typeMoney:
		code, ok := pair[1].(string)
		if !ok {
			return fmt.Errorf("%w: money currency %v", exception.ErrInvalidArgument, pair[1])
		}
		cur, err := model.CurrencyFromString(code)
		if err != nil {
			return err
		}
		v.Set(reflect.ValueOf(model.Money{Raw: rawInt, Currency: cur}))
	default:
		prec, err := toUint(pair[1])
		if err != nil {
			return err
		}
		if v.Type() == typePrice {
			v.Set(reflect.ValueOf(model.Price{Raw: rawInt, Precision: uint8(prec)}))
		} else {
			v.Set(reflect.ValueOf(model.Quantity{Raw: rawInt, Precision: uint8(prec)}))
		}
	}
	return nil
}

func parseTimestamp(raw any) (model.UnixNanos, error) {
	switch x := raw.(type) {
	case string:
		return model.ParseUnixNanos(x)
	default:
		n, err := toUint(raw)
		return model.UnixNanos(n), err
	}
}

func toInt(raw any) (int64, error) {
	switch x := raw.(type) {
	case json.Number:
		return x.Int64()
	case float64:
		return int64(x), nil
	case int64:
		return x, nil
	case uint64:
		return int64(x), nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	}
	return 0, fmt.Errorf("%w: expected integer, got %T", exception.ErrInvalidArgument, raw)
}

func toUint(raw any) (uint64, error) {
	switch x := raw.(type) {
	case json.Number:
		return strconv.ParseUint(x.String(), 10, 64)
	case float64:
		return uint64(x), nil
	case int64:
		return uint64(x), nil
	case uint64:
		return x, nil
	case string:
		return strconv.ParseUint(x, 10, 64)
	}
	return 0, fmt.Errorf("%w: expected unsigned integer, got %T", exception.ErrInvalidArgument, raw)
}

func toFloat(raw any) (float64, error) {
	switch x := raw.(type) {
	case json.Number:
		return x.Float64()
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(x, 64)
	}
	return 0, fmt.Errorf("%w: expected number, got %T", exception.ErrInvalidArgument, raw)
}
