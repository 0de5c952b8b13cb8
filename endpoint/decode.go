package endpoint

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"encoding/base64"
)

// maxFieldBytes bounds the size of any single decoded parameter value.
// Values beyond this are rejected with 400 rather than silently truncated.
const maxFieldBytes = 16 * 1024

// Unmarshal populates dst (a non-nil pointer to a struct) from the request.
//
// Supported sources, selected by struct tag:
//   - `path:"name"`   reads r.PathValue
//   - `query:"name"`  reads r.URL.Query()
//   - `form:"name"`   reads r.PostForm (ParseForm is called as needed)
//   - `header:"name"` reads r.Header
//   - `cookie:"name"` reads r.Cookie(name).Value
//
// An empty name defaults to the lower-cased field name; a name of "-"
// skips the field. If more than one source tag is present, precedence is
// path, query, form, header, cookie; the first source with a value wins.
//
// A trailing ",base64url" or ",base64" flag decodes the value into a
// []byte field. Untagged struct fields (including embedded structs) are
// recursed into. Fields with no value present are left at their zero
// value.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}
	root := v.Elem()
	if root.Kind() == reflect.Pointer {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}
	if root.Kind() != reflect.Struct {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct"))
	}

	// ParseForm is a no-op for GET/HEAD bodies but still parses the query;
	// for POST x-www-form-urlencoded it reads the body.
	if err := r.ParseForm(); err != nil {
		return Error(http.StatusBadRequest, "malformed form body", err)
	}

	return unmarshalStruct(r, root)
}

// sourceTag is one parsed source struct tag.
type sourceTag struct {
	source   string
	name     string
	encoding string // "", "base64", "base64url"
}

// tagSources lists the supported sources in precedence order.
var tagSources = [...]string{"path", "query", "form", "header", "cookie"}

func parseTags(sf reflect.StructField) (tags []sourceTag, skip bool) {
	defaultName := strings.ToLower(sf.Name)
	for _, src := range tagSources {
		raw, ok := sf.Tag.Lookup(src)
		if !ok {
			continue
		}
		name, flag, _ := strings.Cut(raw, ",")
		if name == "-" {
			return nil, true
		}
		if name == "" {
			name = defaultName
		}
		tags = append(tags, sourceTag{source: src, name: name, encoding: strings.TrimSpace(flag)})
	}
	return tags, false
}

func unmarshalStruct(r *http.Request, structVal reflect.Value) error {
	t := structVal.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" { // unexported
			continue
		}
		fv := structVal.Field(i)

		tags, skip := parseTags(sf)
		if skip {
			continue
		}

		// Untagged struct fields (named or embedded) are containers, not
		// leaf values.
		if len(tags) == 0 {
			fv2 := fv
			if fv2.Kind() == reflect.Pointer && fv2.Type().Elem().Kind() == reflect.Struct {
				if fv2.IsNil() {
					fv2.Set(reflect.New(fv2.Type().Elem()))
				}
				fv2 = fv2.Elem()
			}
			if fv2.Kind() == reflect.Struct {
				if err := unmarshalStruct(r, fv2); err != nil {
					return err
				}
			}
			continue
		}

		for _, tag := range tags {
			values, present := lookupSource(r, tag)
			if !present {
				continue
			}
			for _, val := range values {
				if len(val) > maxFieldBytes {
					return Error(http.StatusBadRequest, "",
						fmt.Errorf("endpoint: decode: %s %q exceeds %d bytes", tag.source, tag.name, maxFieldBytes))
				}
			}
			if err := setField(fv, tag, values); err != nil {
				return Error(http.StatusBadRequest, "",
					fmt.Errorf("endpoint: decode: %s %q -> %s: %w", tag.source, tag.name, sf.Name, err))
			}
			break
		}
	}
	return nil
}

func lookupSource(r *http.Request, tag sourceTag) ([]string, bool) {
	switch tag.source {
	case "path":
		if v := r.PathValue(tag.name); v != "" {
			return []string{v}, true
		}
	case "query":
		if r.URL != nil {
			if vs, ok := r.URL.Query()[tag.name]; ok && len(vs) > 0 {
				return vs, true
			}
		}
	case "form":
		if vs, ok := r.PostForm[tag.name]; ok && len(vs) > 0 {
			return vs, true
		}
	case "header":
		if vs, ok := r.Header[http.CanonicalHeaderKey(tag.name)]; ok && len(vs) > 0 {
			return vs, true
		}
	case "cookie":
		if c, err := r.Cookie(tag.name); err == nil && c.Value != "" {
			return []string{c.Value}, true
		}
	}
	return nil, false
}

func setField(fv reflect.Value, tag sourceTag, values []string) error {
	if !fv.CanSet() {
		return errors.New("field is not settable")
	}
	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}
		fv = fv.Elem()
	}

	// []byte fields take the (optionally base64-decoded) raw value.
	if fv.Kind() == reflect.Slice && fv.Type().Elem().Kind() == reflect.Uint8 {
		b, err := decodeBytes(values[0], tag.encoding)
		if err != nil {
			return err
		}
		fv.SetBytes(b)
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(values[0])
	case reflect.Bool:
		b, err := strconv.ParseBool(values[0])
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(values[0], 10, fv.Type().Bits())
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", fv.Type())
		}
		fv.Set(reflect.ValueOf(values))
	default:
		return fmt.Errorf("unsupported field type %s", fv.Type())
	}
	return nil
}

func decodeBytes(s, encoding string) ([]byte, error) {
	switch encoding {
	case "", "base64url":
		return base64.RawURLEncoding.DecodeString(s)
	case "base64":
		return base64.StdEncoding.DecodeString(s)
	default:
		return nil, fmt.Errorf("unsupported encoding flag %q", encoding)
	}
}
