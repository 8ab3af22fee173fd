// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package dispatch

import (
	"fmt"
	"slices"

	"github.com/mia-platform/icedispatch/internal/protocol"
)

const (
	// ObjectTypeID is the type id every object implements.
	ObjectTypeID = "::Ice::Object"
)

// BuiltinOperations are answered by DispatchBuiltin.
var BuiltinOperations = []string{"ice_id", "ice_ids", "ice_isA", "ice_ping"}

// CheckMode verifies that an operation declared with mode declared can be
// invoked with mode received. Equal modes always match and an idempotent
// operation accepts nonmutating invocations from older clients.
func CheckMode(declared, received protocol.OperationMode) error {
	if declared == received {
		return nil
	}
	if declared == protocol.Idempotent && received == protocol.Nonmutating {
		return nil
	}
	return NewMarshalError(fmt.Errorf("operation mode mismatch: expected %s, received %s", declared, received))
}

// DispatchBuiltin answers the operations every object supports. typeIDs must
// be sorted and mostDerived is the type id of the servant's own interface. It
// returns false when the operation is not a built-in one.
func DispatchBuiltin(w ResponseWriter, req *Request, typeIDs []string, mostDerived string) bool {
	current := req.Current
	switch current.Operation {
	case "ice_ping":
		if err := CheckMode(protocol.Idempotent, current.Mode); err != nil {
			w.Fail(err)
			return true
		}
		if err := EndInput(req.Input()); err != nil {
			w.Fail(err)
			return true
		}
		w.Ok(nil)
	case "ice_isA":
		if err := CheckMode(protocol.Idempotent, current.Mode); err != nil {
			w.Fail(err)
			return true
		}
		in := req.Input()
		typeID := in.ReadString()
		if err := EndInput(in); err != nil {
			w.Fail(err)
			return true
		}
		_, found := slices.BinarySearch(typeIDs, typeID)
		out := protocol.NewOutputStream()
		out.WriteBool(found)
		w.Ok(out.Bytes())
	case "ice_id":
		if err := CheckMode(protocol.Idempotent, current.Mode); err != nil {
			w.Fail(err)
			return true
		}
		if err := EndInput(req.Input()); err != nil {
			w.Fail(err)
			return true
		}
		out := protocol.NewOutputStream()
		out.WriteString(mostDerived)
		w.Ok(out.Bytes())
	case "ice_ids":
		if err := CheckMode(protocol.Idempotent, current.Mode); err != nil {
			w.Fail(err)
			return true
		}
		if err := EndInput(req.Input()); err != nil {
			w.Fail(err)
			return true
		}
		out := protocol.NewOutputStream()
		out.WriteStringSeq(typeIDs)
		w.Ok(out.Bytes())
	default:
		return false
	}
	return true
}
