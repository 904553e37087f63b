// Package discovery finds runnable entry points in a folder of scripts.
package discovery

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/heyglassy/flyspace/internal/domain"
)

// ContractImportPath is the package scripts import the entry point types
// from.
const ContractImportPath = "github.com/heyglassy/flyspace/pkg/flyspace"

// Discover inspects every script in dir, non-recursively. Files without a
// runnable export are left out. Keys are the file paths joined onto dir.
func Discover(dir string) (map[string]domain.ExportDetails, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scripts dir: %w", err)
	}

	files := make(map[string]domain.ExportDetails)
	for _, entry := range entries {
		if entry.IsDir() || !isScript(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		details, err := Inspect(path)
		if err != nil {
			// a file that does not parse yet has nothing runnable
			continue
		}
		if len(details.MatchingExports) > 0 {
			files[path] = details
		}
	}
	return files, nil
}

// Inspect parses one script and lists its exports.
func Inspect(path string) (domain.ExportDetails, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
	if err != nil {
		return domain.ExportDetails{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	contextName, contractName := importNames(f)
	details := domain.ExportDetails{
		MatchingExports: []string{},
		AllExports:      []string{},
	}

	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Recv != nil || !d.Name.IsExported() {
				continue
			}
			details.AllExports = append(details.AllExports, d.Name.Name)
			if isEntryPointFunc(d.Type, contextName, contractName) {
				details.MatchingExports = append(details.MatchingExports, d.Name.Name)
			}
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.ValueSpec:
					for _, name := range s.Names {
						if !name.IsExported() {
							continue
						}
						details.AllExports = append(details.AllExports, name.Name)
						if d.Tok == token.VAR && isEntryPointVar(s.Type, contextName, contractName) {
							details.MatchingExports = append(details.MatchingExports, name.Name)
						}
					}
				case *ast.TypeSpec:
					if s.Name.IsExported() {
						details.AllExports = append(details.AllExports, s.Name.Name)
					}
				}
			}
		}
	}

	sort.Strings(details.AllExports)
	sort.Strings(details.MatchingExports)
	return details, nil
}

func isScript(name string) bool {
	return strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go")
}

// importNames returns the local names of the context and contract packages,
// or "" when a package is not imported.
func importNames(f *ast.File) (contextName, contractName string) {
	for _, imp := range f.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		name := ""
		if imp.Name != nil {
			name = imp.Name.Name
		}
		switch path {
		case "context":
			if name == "" {
				name = "context"
			}
			contextName = name
		case ContractImportPath:
			if name == "" {
				name = "flyspace"
			}
			contractName = name
		}
	}
	return contextName, contractName
}

// isEntryPointFunc reports whether ft is func(context.Context, flyspace.Env) error.
func isEntryPointFunc(ft *ast.FuncType, contextName, contractName string) bool {
	if contextName == "" || contractName == "" || ft.TypeParams != nil {
		return false
	}
	var params []ast.Expr
	for _, field := range ft.Params.List {
		n := len(field.Names)
		if n == 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			params = append(params, field.Type)
		}
	}
	if len(params) != 2 {
		return false
	}
	if !isSelector(params[0], contextName, "Context") || !isSelector(params[1], contractName, "Env") {
		return false
	}
	if ft.Results == nil || len(ft.Results.List) != 1 || len(ft.Results.List[0].Names) > 1 {
		return false
	}
	ident, ok := ft.Results.List[0].Type.(*ast.Ident)
	return ok && ident.Name == "error"
}

// isEntryPointVar reports whether a declared variable type is
// flyspace.EntryPoint or the equivalent func type.
func isEntryPointVar(t ast.Expr, contextName, contractName string) bool {
	if t == nil {
		return false
	}
	if isSelector(t, contractName, "EntryPoint") {
		return true
	}
	ft, ok := t.(*ast.FuncType)
	return ok && isEntryPointFunc(ft, contextName, contractName)
}

func isSelector(e ast.Expr, pkg, name string) bool {
	sel, ok := e.(*ast.SelectorExpr)
	if !ok || pkg == "" {
		return false
	}
	x, ok := sel.X.(*ast.Ident)
	return ok && x.Name == pkg && sel.Sel.Name == name
}
