package program

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/roach88/domino/internal/ir"
)

// ErrOp is wrapped by every path-op failure.
var ErrOp = errors.New("path op failed")

func opError(i int, op ir.Op, format string, args ...any) error {
	return fmt.Errorf("%w: ops[%d] %s %q: %s", ErrOp, i, op.Op, op.Path, fmt.Sprintf(format, args...))
}

// ApplyOps applies ops to db in order and returns the new db.
// event is the event vector as the handler received it.
// db is not modified; on error no partial result is returned.
func ApplyOps(db ir.IRValue, ops []ir.Op, event ir.IRValue) (ir.IRValue, error) {
	if len(ops) == 0 {
		return db, nil
	}
	doc, err := ir.MarshalCanonical(db)
	if err != nil {
		return nil, fmt.Errorf("%w: encode db: %v", ErrOp, err)
	}

	for i, op := range ops {
		if op.Path == "" {
			return nil, opError(i, op, "empty path")
		}
		next, err := applyOp(doc, i, op, event)
		if err != nil {
			if !errors.Is(err, ErrOp) {
				err = opError(i, op, "%v", err)
			}
			return nil, err
		}
		doc = next
	}

	out, err := ir.UnmarshalIRValue(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: decode db: %v", ErrOp, err)
	}
	return out, nil
}

func applyOp(doc []byte, i int, op ir.Op, event ir.IRValue) ([]byte, error) {
	switch op.Op {
	case ir.OpSet:
		raw, err := operandJSON(op, event)
		if err != nil {
			return nil, opError(i, op, "%v", err)
		}
		return sjson.SetRawBytes(doc, op.Path, raw)

	case ir.OpInc:
		by := op.By
		if op.Arg != nil {
			n, ok := argAt(event, *op.Arg).(ir.IRInt)
			if !ok {
				return nil, opError(i, op, "event[%d] is %s, want int", *op.Arg, ir.TypeName(argAt(event, *op.Arg)))
			}
			by = int64(n)
		} else if by == 0 {
			by = 1
		}
		cur := gjson.GetBytes(doc, op.Path)
		var n int64
		if cur.Exists() {
			if cur.Type != gjson.Number {
				return nil, opError(i, op, "target is not a number")
			}
			parsed, err := strconv.ParseInt(cur.Raw, 10, 64)
			if err != nil {
				return nil, opError(i, op, "target is not an integer: %s", cur.Raw)
			}
			n = parsed
		}
		return sjson.SetRawBytes(doc, op.Path, []byte(strconv.FormatInt(n+by, 10)))

	case ir.OpAppend:
		raw, err := operandJSON(op, event)
		if err != nil {
			return nil, opError(i, op, "%v", err)
		}
		cur := gjson.GetBytes(doc, op.Path)
		if cur.Exists() && !cur.IsArray() {
			return nil, opError(i, op, "target is not an array")
		}
		if !cur.Exists() {
			return sjson.SetRawBytes(doc, op.Path, append(append([]byte("["), raw...), ']'))
		}
		return sjson.SetRawBytes(doc, op.Path+".-1", raw)

	case ir.OpDelete:
		if !gjson.GetBytes(doc, op.Path).Exists() {
			return doc, nil
		}
		return sjson.DeleteBytes(doc, op.Path)

	default:
		return nil, opError(i, op, "unknown op")
	}
}

// operandJSON returns the canonical JSON of the op's operand.
func operandJSON(op ir.Op, event ir.IRValue) ([]byte, error) {
	v := op.Value
	if op.Arg != nil {
		v = argAt(event, *op.Arg)
	}
	if v == nil {
		v = ir.IRNull{}
	}
	return ir.MarshalCanonical(v)
}

// argAt returns element i of the event vector, or IRNull.
func argAt(event ir.IRValue, i int) ir.IRValue {
	vec, ok := event.(ir.IRArray)
	if !ok || i < 0 || i >= len(vec) {
		return ir.IRNull{}
	}
	return vec[i]
}

// ReadPath returns the value at a gjson path in db, or IRNull when the path
// does not exist. An empty path returns db itself.
func ReadPath(db ir.IRValue, path string) (ir.IRValue, error) {
	if path == "" {
		return db, nil
	}
	doc, err := ir.MarshalCanonical(db)
	if err != nil {
		return nil, err
	}
	r := gjson.GetBytes(doc, path)
	if !r.Exists() {
		return ir.IRNull{}, nil
	}
	return ir.UnmarshalIRValue([]byte(r.Raw))
}
