package toolmods

import "github.com/toolsmith-ai/toolsmith/internal/tools"

// Builtin returns the catalog of modules compiled into the binary.
// External deployments extend it by adding modules before boot.
func Builtin() *tools.Catalog {
	cat := tools.NewCatalog()
	cat.Add(Ops())
	return cat
}
