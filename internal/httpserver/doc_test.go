package httpserver

import (
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlersCarryRouteDocs(t *testing.T) {
	paths, err := filepath.Glob("*_handlers.go")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	fset := token.NewFileSet()
	seen := 0
	for _, p := range paths {
		f, err := parser.ParseFile(fset, p, nil, parser.ParseComments)
		require.NoError(t, err)
		for _, decl := range f.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || !strings.HasPrefix(fn.Name.Name, "handle") {
				continue
			}
			seen++
			doc := ""
			if fn.Doc != nil {
				doc = fn.Doc.Text()
			}
			assert.Contains(t, doc, "@Router", "%s in %s", fn.Name.Name, p)
		}
	}
	assert.Equal(t, 9, seen)
}
