package plan

import (
	"fmt"

	"github.com/docvault/docvault/internal/inventory"
)

type OpKind string

const (
	OpAdd    OpKind = "add"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Operation is one reconciliation step. Exactly one operation exists
// per path within a plan; Local is set for add/update, Remote for
// update/delete.
type Operation struct {
	Kind   OpKind
	Path   string
	Key    string
	Local  *inventory.LocalItem
	Remote *inventory.RemoteItem
}

// UploadBytes is the payload size this operation will transfer, zero
// for deletes.
func (op Operation) UploadBytes() int64 {
	if op.Local == nil {
		return 0
	}
	return op.Local.Size
}

// Plan is an ordered set of operations: uploads first (sorted by path),
// then deletes.
type Plan struct {
	Ops         []Operation
	UploadBytes int64
	UploadCount int
	DeleteCount int
	Skipped     int
}

func (p *Plan) Empty() bool {
	return len(p.Ops) == 0
}

func (p *Plan) String() string {
	return fmt.Sprintf("%d uploads (%d bytes), %d deletes, %d unchanged",
		p.UploadCount, p.UploadBytes, p.DeleteCount, p.Skipped)
}
