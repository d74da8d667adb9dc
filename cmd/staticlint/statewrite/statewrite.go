// Package statewrite содержит анализатор, который разрешает менять состояние переговоров
// только через функцию перехода.
package statewrite

import (
	"go/ast"
	"go/types"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

const (
	modelsPathSuffix = "/internal/models"
	recordType       = "Negotiation"
	stateField       = "State"
	// TransitionFunc имя единственной функции, которой разрешено присваивать State
	TransitionFunc = "transitionState"
)

// Analyzer запрещает присваивание поля State записи переговоров вне transitionState.
// Составные литералы не проверяются: так создаются новые записи.
var Analyzer = &analysis.Analyzer{
	Name:     "statewrite",
	Doc:      "запрещает присваивание Negotiation.State вне функции " + TransitionFunc,
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

func run(pass *analysis.Pass) (interface{}, error) {
	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	nodes := []ast.Node{(*ast.AssignStmt)(nil), (*ast.IncDecStmt)(nil)}
	insp.WithStack(nodes, func(n ast.Node, push bool, stack []ast.Node) bool {
		if !push || insideTransition(stack) {
			return true
		}

		var targets []ast.Expr
		switch stmt := n.(type) {
		case *ast.AssignStmt:
			targets = stmt.Lhs
		case *ast.IncDecStmt:
			targets = []ast.Expr{stmt.X}
		}

		for _, target := range targets {
			if sel, ok := target.(*ast.SelectorExpr); ok && isStateField(pass, sel) {
				pass.Reportf(sel.Pos(), "состояние переговоров меняется только в %s", TransitionFunc)
			}
		}
		return true
	})

	return nil, nil
}

func insideTransition(stack []ast.Node) bool {
	for _, n := range stack {
		if fn, ok := n.(*ast.FuncDecl); ok && fn.Name.Name == TransitionFunc {
			return true
		}
	}
	return false
}

func isStateField(pass *analysis.Pass, sel *ast.SelectorExpr) bool {
	if sel.Sel.Name != stateField {
		return false
	}
	selection, ok := pass.TypesInfo.Selections[sel]
	if !ok || selection.Kind() != types.FieldVal {
		return false
	}

	recv := selection.Recv()
	if ptr, ok := recv.(*types.Pointer); ok {
		recv = ptr.Elem()
	}
	named, ok := recv.(*types.Named)
	if !ok {
		return false
	}
	obj := named.Obj()
	return obj.Name() == recordType && obj.Pkg() != nil && strings.HasSuffix(obj.Pkg().Path(), modelsPathSuffix)
}
