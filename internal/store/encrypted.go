package store

import (
	"context"
	"fmt"

	"duotime/internal/encryption"
)

// DefaultEncryptedFields lists the columns stored encrypted, per kind.
var DefaultEncryptedFields = map[string][]string{
	KindUser:         {"email", "push_token"},
	KindLoveNote:     {"message"},
	KindReminder:     {"title", "description"},
	KindNotification: {"title", "message"},
}

// Encrypted wraps a Store and runs configured fields through the codec:
// write payloads are encrypted before they reach the inner store and every
// record coming back is decrypted. Each value is bound to "<kind>.<field>",
// so ciphertext copied from one column never opens in another.
type Encrypted struct {
	inner  Store
	codec  *encryption.Codec
	fields map[string][]string
}

var _ Store = (*Encrypted)(nil)

func NewEncrypted(inner Store, codec *encryption.Codec, fields map[string][]string) *Encrypted {
	if fields == nil {
		fields = DefaultEncryptedFields
	}
	return &Encrypted{inner: inner, codec: codec, fields: fields}
}

func (e *Encrypted) Create(ctx context.Context, kind string, data Record) (Record, error) {
	enc, err := e.encrypt(kind, data)
	if err != nil {
		return nil, err
	}
	out, err := e.inner.Create(ctx, kind, enc)
	if err != nil {
		return nil, err
	}
	return e.decrypt(kind, out)
}

func (e *Encrypted) Update(ctx context.Context, kind string, where Record, data Record) (Record, error) {
	enc, err := e.encrypt(kind, data)
	if err != nil {
		return nil, err
	}
	out, err := e.inner.Update(ctx, kind, where, enc)
	if err != nil {
		return nil, err
	}
	return e.decrypt(kind, out)
}

func (e *Encrypted) UpdateMany(ctx context.Context, kind string, where Record, data Record) (int64, error) {
	enc, err := e.encrypt(kind, data)
	if err != nil {
		return 0, err
	}
	return e.inner.UpdateMany(ctx, kind, where, enc)
}

func (e *Encrypted) FindUnique(ctx context.Context, kind string, where Record) (Record, error) {
	out, err := e.inner.FindUnique(ctx, kind, where)
	if err != nil {
		return nil, err
	}
	return e.decrypt(kind, out)
}

func (e *Encrypted) FindFirst(ctx context.Context, kind string, q Query) (Record, error) {
	out, err := e.inner.FindFirst(ctx, kind, q)
	if err != nil {
		return nil, err
	}
	return e.decrypt(kind, out)
}

func (e *Encrypted) FindMany(ctx context.Context, kind string, q Query) ([]Record, error) {
	rows, err := e.inner.FindMany(ctx, kind, q)
	if err != nil {
		return nil, err
	}
	if _, ok := e.fields[kind]; !ok {
		return rows, nil
	}

	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		dec, err := e.decrypt(kind, r)
		if err != nil {
			return nil, err
		}
		out = append(out, dec)
	}
	return out, nil
}

func (e *Encrypted) Delete(ctx context.Context, kind string, where Record) error {
	return e.inner.Delete(ctx, kind, where)
}

func (e *Encrypted) DeleteMany(ctx context.Context, kind string, where Record) (int64, error) {
	return e.inner.DeleteMany(ctx, kind, where)
}

func (e *Encrypted) encrypt(kind string, data Record) (Record, error) {
	fields, ok := e.fields[kind]
	if !ok {
		return data, nil
	}
	out, err := e.codec.EncryptObjectIn(kind, data, fields)
	if err != nil {
		return nil, fmt.Errorf("encrypt %s: %w", kind, err)
	}
	return out, nil
}

func (e *Encrypted) decrypt(kind string, rec Record) (Record, error) {
	fields, ok := e.fields[kind]
	if !ok {
		return rec, nil
	}
	out, err := e.codec.DecryptObjectIn(kind, rec, fields)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", kind, err)
	}
	return out, nil
}
