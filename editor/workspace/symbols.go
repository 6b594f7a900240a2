package workspace

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"path/filepath"
	"strings"

	"github.com/m4xw311/chatbridge/editor"
	"github.com/m4xw311/chatbridge/errors"
)

func documentSymbols(path string) ([]editor.Symbol, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".go" {
		return nil, errors.Typed(errors.Capability, fmt.Sprintf("document symbols are not available for %s files", LanguageID(path)))
	}
	fset := token.NewFileSet()
	// A file with syntax errors still yields the declarations parsed so far.
	file, err := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
	if file == nil {
		return nil, errors.Wrap(errors.Capability, "failed to parse "+path+": "+err.Error(), err)
	}
	return goSymbols(fset, file), nil
}

func goSymbols(fset *token.FileSet, file *ast.File) []editor.Symbol {
	var out []editor.Symbol
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			out = append(out, funcSymbol(fset, d))
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				out = append(out, specSymbols(fset, d, spec)...)
			}
		}
	}
	return out
}

func funcSymbol(fset *token.FileSet, d *ast.FuncDecl) editor.Symbol {
	s := editor.Symbol{
		Name:           d.Name.Name,
		Detail:         types.ExprString(d.Type),
		Kind:           "function",
		Range:          span(fset, d.Pos(), d.End()),
		SelectionRange: span(fset, d.Name.Pos(), d.Name.End()),
	}
	if d.Recv != nil && len(d.Recv.List) > 0 {
		s.Kind = "method"
		s.Name = fmt.Sprintf("(%s).%s", types.ExprString(d.Recv.List[0].Type), d.Name.Name)
	}
	return s
}

func specSymbols(fset *token.FileSet, d *ast.GenDecl, spec ast.Spec) []editor.Symbol {
	switch sp := spec.(type) {
	case *ast.TypeSpec:
		s := editor.Symbol{
			Name:           sp.Name.Name,
			Kind:           "type",
			Range:          span(fset, declStart(d, sp), sp.End()),
			SelectionRange: span(fset, sp.Name.Pos(), sp.Name.End()),
		}
		switch t := sp.Type.(type) {
		case *ast.StructType:
			s.Kind = "struct"
			s.Children = fieldSymbols(fset, t.Fields, "field")
		case *ast.InterfaceType:
			s.Kind = "interface"
			s.Children = fieldSymbols(fset, t.Methods, "method")
		default:
			s.Detail = types.ExprString(sp.Type)
		}
		return []editor.Symbol{s}
	case *ast.ValueSpec:
		kind := "variable"
		if d.Tok == token.CONST {
			kind = "constant"
		}
		detail := ""
		if sp.Type != nil {
			detail = types.ExprString(sp.Type)
		}
		out := make([]editor.Symbol, 0, len(sp.Names))
		for _, name := range sp.Names {
			if name.Name == "_" {
				continue
			}
			out = append(out, editor.Symbol{
				Name:           name.Name,
				Detail:         detail,
				Kind:           kind,
				Range:          span(fset, declStart(d, sp), sp.End()),
				SelectionRange: span(fset, name.Pos(), name.End()),
			})
		}
		return out
	}
	return nil
}

// declStart includes the keyword of an unparenthesized declaration.
func declStart(d *ast.GenDecl, spec ast.Spec) token.Pos {
	if d.Lparen.IsValid() {
		return spec.Pos()
	}
	return d.Pos()
}

func fieldSymbols(fset *token.FileSet, fields *ast.FieldList, kind string) []editor.Symbol {
	if fields == nil {
		return nil
	}
	var out []editor.Symbol
	for _, f := range fields.List {
		detail := types.ExprString(f.Type)
		if len(f.Names) == 0 {
			// Embedded field or interface.
			out = append(out, editor.Symbol{
				Name:           detail,
				Kind:           kind,
				Range:          span(fset, f.Pos(), f.End()),
				SelectionRange: span(fset, f.Type.Pos(), f.Type.End()),
			})
			continue
		}
		for _, name := range f.Names {
			out = append(out, editor.Symbol{
				Name:           name.Name,
				Detail:         detail,
				Kind:           kind,
				Range:          span(fset, f.Pos(), f.End()),
				SelectionRange: span(fset, name.Pos(), name.End()),
			})
		}
	}
	return out
}

// span converts token positions to a 0-based range.
func span(fset *token.FileSet, from, to token.Pos) editor.Range {
	start, end := fset.Position(from), fset.Position(to)
	return editor.Range{
		Start: editor.Position{Line: start.Line - 1, Character: start.Column - 1},
		End:   editor.Position{Line: end.Line - 1, Character: end.Column - 1},
	}
}
