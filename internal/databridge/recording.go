// internal/databridge/recording.go
package databridge

import (
	"context"

	"github.com/xkilldash9x/scraperflow/api/schemas"
)

// Recorder receives one externalDataOperation entry per bridge call.
// *execinfo.Log satisfies it.
type Recorder interface {
	Push(record schemas.ExecutionInfo, flush bool)
}

type recordingBridge struct {
	Bridge
	rec Recorder
}

// Recorded wraps b so that every get, set, setMany and delete is pushed to rec,
// whether or not the call succeeds, except deletes b refused. Reads made while resolving special
// strings are not recorded.
func Recorded(b Bridge, rec Recorder) Bridge {
	return &recordingBridge{Bridge: b, rec: rec}
}

func (r *recordingBridge) push(op schemas.DataOperation, key, source string, value schemas.Scalar) {
	r.rec.Push(schemas.NewDataOperation(schemas.ExternalDataOperationInfo{
		Operation:  op,
		Key:        key,
		SourceName: source,
		Value:      value,
	}), false)
}

func (r *recordingBridge) Get(ctx context.Context, key string) (schemas.Scalar, error) {
	v, err := r.Bridge.Get(ctx, key)
	source, _, _ := ParseKey(key)
	r.push(schemas.DataGet, key, source, v)
	return v, err
}

func (r *recordingBridge) Set(ctx context.Context, key string, value schemas.Scalar) error {
	source, _, _ := ParseKey(key)
	r.push(schemas.DataSet, key, source, value)
	return r.Bridge.Set(ctx, key, value)
}

func (r *recordingBridge) SetMany(ctx context.Context, source string, items []Column) error {
	values := make(map[string]schemas.Scalar, len(items))
	for _, item := range items {
		values[item.Name] = item.Value
	}
	r.push(schemas.DataSetMany, "", source, values)
	return r.Bridge.SetMany(ctx, source, items)
}

// rowDeleter reports whether a delete targeted the row under the cursor.
type rowDeleter interface {
	deleteRow(ctx context.Context, source string) (bool, error)
}

// Delete records only deletes that targeted a row. A delete refused because
// the iterator is not bound to source leaves no record.
func (r *recordingBridge) Delete(ctx context.Context, source string) error {
	d, ok := r.Bridge.(rowDeleter)
	if !ok {
		r.push(schemas.DataDelete, "", source, nil)
		return r.Bridge.Delete(ctx, source)
	}
	targeted, err := d.deleteRow(ctx, source)
	if targeted {
		r.push(schemas.DataDelete, "", source, nil)
	}
	return err
}
