package xlsx

import (
	"fmt"
	"log/slog"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

// binding.go discovers how a record struct maps onto spreadsheet columns.
//
// Discovery is reflection-driven but happens exactly once per type: the
// resulting Descriptor is an ordered array of (column name, field index,
// parse func, identifier flag, date flag) and row binding is plain indexed
// dispatch from then on.
//
// Columns are declared with struct tags:
//
//	type CaseRow struct {
//	    UnitCode string `xlsx:"Mã đơn vị"`
//	    DocDate  string `xlsx:"Ngày chứng từ,date"`
//	    Ignored  string `xlsx:"-"`
//	}
//
// Tag options: "date" and "datetime" mark string-typed fields whose cells
// carry dates; "id" forces identifier normalization on a field whose name
// does not match the identifier heuristics.

// identifierTokens marks identifier-shaped string fields by name. Values in
// such fields get scientific-notation repair and leading-zero preservation.
var identifierTokens = []string{
	"identity", "cmnd", "cccd", "passport", "phone",
	"mobile", "tax", "mst", "account", "code",
}

type parseFunc func(string) (reflect.Value, error)

// fieldBinding is one column of a record type.
type fieldBinding struct {
	Column       string // external column name, as tagged
	Index        int    // struct field index
	Parse        parseFunc
	IsIdentifier bool
	IsDate       bool
}

// Descriptor is the cached binding plan for one record type.
type Descriptor struct {
	typ      reflect.Type // the struct type, not the pointer
	fields   []fieldBinding
	byColumn map[string]*fieldBinding // keyed by lowercased column name

	missMu sync.Mutex
	misses map[string]bool // columns already reported as unbound
}

var (
	descriptorCache sync.Map // reflect.Type -> *Descriptor

	convertersMu     sync.RWMutex
	customConverters = map[reflect.Type]func(string) (any, error){}
)

// RegisterConverter installs a custom string-to-value converter for a field
// type. Call during startup, before any descriptors for the type are built.
func RegisterConverter(t reflect.Type, fn func(string) (any, error)) {
	convertersMu.Lock()
	defer convertersMu.Unlock()
	customConverters[t] = fn
}

// RegisterEnum installs a case-insensitive converter for a named string
// type. example is any value of the type; values are the accepted names in
// canonical casing.
func RegisterEnum(example any, values ...string) {
	t := reflect.TypeOf(example)
	RegisterConverter(t, func(s string) (any, error) {
		for _, v := range values {
			if strings.EqualFold(s, v) {
				return reflect.ValueOf(v).Convert(t).Interface(), nil
			}
		}
		return nil, fmt.Errorf("invalid %s value: %q", t.Name(), s)
	})
}

// DescriptorFor returns the binding descriptor for a record type, building
// and caching it on first use. rec must be a struct or pointer to struct.
func DescriptorFor(rec any) (*Descriptor, error) {
	t := reflect.TypeOf(rec)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("record type %s is not a struct", t)
	}

	if cached, ok := descriptorCache.Load(t); ok {
		return cached.(*Descriptor), nil
	}

	d, err := buildDescriptor(t)
	if err != nil {
		return nil, err
	}
	actual, _ := descriptorCache.LoadOrStore(t, d)
	return actual.(*Descriptor), nil
}

func buildDescriptor(t reflect.Type) (*Descriptor, error) {
	d := &Descriptor{
		typ:      t,
		byColumn: make(map[string]*fieldBinding),
		misses:   make(map[string]bool),
	}

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("xlsx")
		if tag == "-" {
			continue
		}

		column := sf.Name
		var opts []string
		if tag != "" {
			parts := strings.Split(tag, ",")
			if parts[0] != "" {
				column = parts[0]
			}
			opts = parts[1:]
		}

		fb := fieldBinding{
			Column:       column,
			Index:        i,
			IsIdentifier: isIdentifierField(sf.Name) || hasOpt(opts, "id"),
			IsDate:       isDateType(sf.Type) || hasOpt(opts, "date") || hasOpt(opts, "datetime"),
		}

		parse, err := parserFor(sf.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", t.Name(), sf.Name, err)
		}
		fb.Parse = parse

		d.fields = append(d.fields, fb)
	}

	if len(d.fields) == 0 {
		return nil, fmt.Errorf("record type %s declares no xlsx columns", t.Name())
	}

	// Index into the final slice only after all appends, so byColumn never
	// aliases a reallocated backing array.
	for i := range d.fields {
		d.byColumn[strings.ToLower(d.fields[i].Column)] = &d.fields[i]
	}
	return d, nil
}

// New constructs a zeroed record of the descriptor's type.
func (d *Descriptor) New() any {
	return reflect.New(d.typ).Interface()
}

// Columns returns the external column names in field order. Used for
// positional mapping when a sheet carries no header row.
func (d *Descriptor) Columns() []string {
	cols := make([]string, len(d.fields))
	for i, f := range d.fields {
		cols[i] = f.Column
	}
	return cols
}

// Lookup resolves an external column name. Unknown columns are reported
// once per descriptor and then cached as misses so repeated rows stay
// silent.
func (d *Descriptor) Lookup(column string) (*fieldBinding, bool) {
	fb, ok := d.byColumn[strings.ToLower(column)]
	if ok {
		return fb, true
	}

	d.missMu.Lock()
	if !d.misses[column] {
		d.misses[column] = true
		slog.Debug("unbound spreadsheet column", "type", d.typ.Name(), "column", column)
	}
	d.missMu.Unlock()
	return nil, false
}

// fieldByPosition returns the binding at field order position i, for
// header-less sheets.
func (d *Descriptor) fieldByPosition(i int) (*fieldBinding, bool) {
	if i < 0 || i >= len(d.fields) {
		return nil, false
	}
	return &d.fields[i], true
}

// Set parses raw text and assigns it to the bound field of rec. Empty
// values leave the field at its zero value. rec must be a pointer to the
// descriptor's struct type.
func (d *Descriptor) Set(rec any, fb *fieldBinding, raw string) error {
	if raw == "" {
		return nil
	}
	v, err := fb.Parse(raw)
	if err != nil {
		return fmt.Errorf("column %q: %w", fb.Column, err)
	}
	reflect.ValueOf(rec).Elem().Field(fb.Index).Set(v)
	return nil
}

func isIdentifierField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, tok := range identifierTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

var timeType = reflect.TypeOf(time.Time{})

func isDateType(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t == timeType
}

func hasOpt(opts []string, want string) bool {
	for _, o := range opts {
		if o == want {
			return true
		}
	}
	return false
}

// Date layouts accepted by the built-in time converter. Canonical form
// first; datetime second.
var timeLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parserFor builds the string-to-value converter for a field type. Custom
// converters registered for the exact type take precedence.
func parserFor(t reflect.Type) (parseFunc, error) {
	convertersMu.RLock()
	custom, ok := customConverters[t]
	convertersMu.RUnlock()
	if ok {
		return func(s string) (reflect.Value, error) {
			v, err := custom(s)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(v), nil
		}, nil
	}

	if t == timeType {
		return parseTime, nil
	}
	if t == reflect.TypeOf((*big.Float)(nil)) {
		return parseBigDecimal, nil
	}

	switch t.Kind() {
	case reflect.String:
		// Enum-style named string types compare case-insensitively against
		// values registered via RegisterConverter; plain strings pass
		// through.
		return func(s string) (reflect.Value, error) {
			return reflect.ValueOf(s).Convert(t), nil
		}, nil
	case reflect.Int, reflect.Int32, reflect.Int64:
		return func(s string) (reflect.Value, error) {
			n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("not an integer: %q", s)
			}
			v := reflect.New(t).Elem()
			if v.OverflowInt(n) {
				return reflect.Value{}, fmt.Errorf("integer out of range: %q", s)
			}
			v.SetInt(n)
			return v, nil
		}, nil
	case reflect.Float32, reflect.Float64:
		return func(s string) (reflect.Value, error) {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("not a number: %q", s)
			}
			v := reflect.New(t).Elem()
			v.SetFloat(f)
			return v, nil
		}, nil
	case reflect.Bool:
		return func(s string) (reflect.Value, error) {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "true", "t", "yes", "y", "1":
				return reflect.ValueOf(true).Convert(t), nil
			case "false", "f", "no", "n", "0":
				return reflect.ValueOf(false).Convert(t), nil
			}
			return reflect.Value{}, fmt.Errorf("not a boolean: %q", s)
		}, nil
	}
	return nil, fmt.Errorf("unsupported field type %s", t)
}

func parseTime(s string) (reflect.Value, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return reflect.ValueOf(ts), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("not a date: %q", s)
}

// parseBigDecimal keeps arbitrary-precision numerics exact; used for
// *big.Float fields.
func parseBigDecimal(s string) (reflect.Value, error) {
	f, _, err := big.ParseFloat(strings.TrimSpace(s), 10, 200, big.ToNearestEven)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("not a decimal: %q", s)
	}
	return reflect.ValueOf(f), nil
}
