package main

import (
	"github.com/toolsmith-ai/toolsmith/internal/toolmods"
	"github.com/toolsmith-ai/toolsmith/internal/tools"
)

// builtinCatalog assembles the modules compiled into this binary.
func builtinCatalog() *tools.Catalog {
	return toolmods.Builtin()
}
