package main

import (
	"flag"
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/lookbusy1344/dexlab/dex"
)

// runInspect opens a read-only tree browser over a decoded DEX's class and
// method pools. It has no breakpoint, stepping, or register-editing
// commands — those belong to a debugger, not this tool.
func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	md, err := loadDexes(fs.Args())
	if err != nil {
		return err
	}

	app := tview.NewApplication()
	tree := buildDexTree(md)
	tree.SetBorder(true).SetTitle(" dexlab inspect ")
	tree.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Rune() == 'q' {
			app.Stop()
			return nil
		}
		return event
	})

	return app.SetRoot(tree, true).SetFocus(tree).Run()
}

// buildDexTree lays out every loaded DEX as a root-level node, each class
// as a child, and each direct/virtual method as a leaf.
func buildDexTree(md *dex.MultiDex) *tview.TreeView {
	root := tview.NewTreeNode("dexes").SetColor(tcell.ColorYellow)
	tv := tview.NewTreeView().SetRoot(root).SetCurrentNode(root)

	for _, f := range md.Files() {
		dexNode := tview.NewTreeNode(fmt.Sprintf("%s (%s)", f.Name, f.ID())).
			SetSelectable(true).
			SetColor(tcell.ColorGreen)
		root.AddChild(dexNode)

		for _, cd := range f.Classes.All() {
			classNode := tview.NewTreeNode(cd.Name).SetSelectable(true)
			dexNode.AddChild(classNode)
			if cd.Data == nil {
				continue
			}
			for _, m := range cd.Data.DirectMethods {
				classNode.AddChild(methodLeaf(f, m))
			}
			for _, m := range cd.Data.VirtualMethods {
				classNode.AddChild(methodLeaf(f, m))
			}
		}
	}

	tv.SetSelectedFunc(func(node *tview.TreeNode) {
		node.SetExpanded(!node.IsExpanded())
	})
	return tv
}

func methodLeaf(f *dex.File, m dex.EncodedMember) *tview.TreeNode {
	sig := f.Methods.Signature(m.Index, f.Types, f.Protos)
	label := sig
	if _, ok := f.MethodCode(m.Index); !ok {
		label += " (no code)"
	}
	return tview.NewTreeNode(label).SetSelectable(true).SetColor(tcell.ColorWhite)
}
