package encryption

import "fmt"

// EncryptObject returns a shallow copy of record in which every listed field
// holding a non-empty string (or non-nil *string) is replaced by its
// ciphertext, bound to the field name. Values that already are ciphertext for
// that field are left alone so a record is never encrypted twice; ciphertext
// sealed for any other field is rejected with ErrDecryptionFailure. Other
// fields are copied as-is.
func (c *Codec) EncryptObject(record map[string]any, fields []string) (map[string]any, error) {
	return c.EncryptObjectIn("", record, fields)
}

// EncryptObjectIn is EncryptObject with every field bound to
// "<scope>.<field>".
func (c *Codec) EncryptObjectIn(scope string, record map[string]any, fields []string) (map[string]any, error) {
	return c.transform(scope, record, fields, func(slot, v string) (string, error) {
		if !c.sealedByUs(v) {
			return c.EncryptFor(slot, v)
		}
		if _, err := c.DecryptFor(slot, v); err != nil {
			return "", fmt.Errorf("%w: ciphertext was sealed for another field", ErrDecryptionFailure)
		}
		return v, nil
	})
}

// DecryptObject is the inverse of EncryptObject.
func (c *Codec) DecryptObject(record map[string]any, fields []string) (map[string]any, error) {
	return c.DecryptObjectIn("", record, fields)
}

// DecryptObjectIn is the inverse of EncryptObjectIn.
func (c *Codec) DecryptObjectIn(scope string, record map[string]any, fields []string) (map[string]any, error) {
	return c.transform(scope, record, fields, c.DecryptFor)
}

func fieldScope(scope, field string) string {
	if scope == "" {
		return field
	}
	return scope + "." + field
}

func (c *Codec) transform(scope string, record map[string]any, fields []string, fn func(slot, v string) (string, error)) (map[string]any, error) {
	if record == nil {
		return nil, nil
	}

	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}

	for _, field := range fields {
		slot := fieldScope(scope, field)
		switch v := out[field].(type) {
		case string:
			if v == "" {
				continue
			}
			res, err := fn(slot, v)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", field, err)
			}
			out[field] = res
		case *string:
			if v == nil || *v == "" {
				continue
			}
			res, err := fn(slot, *v)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", field, err)
			}
			out[field] = &res
		}
	}
	return out, nil
}
