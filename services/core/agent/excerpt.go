// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// excerptFunctions returns the source text of every top-level
// function and type declaration in a Go source file, so RepoAgent can
// hand the oracle a span-accurate excerpt instead of the whole file.
// Falls back to a bounded line window if parsing fails, since a
// malformed or non-Go file must never abort context gathering.
func excerptFunctions(ctx context.Context, path string, source []byte) string {
	parser := sitter.NewParser()
	parser.SetLanguage(golang.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil || tree == nil {
		return lineWindowFallback(path, source, 80)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return lineWindowFallback(path, source, 80)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "// %s\n", path)
	count := 0
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		switch child.Type() {
		case "function_declaration", "method_declaration", "type_declaration":
			b.WriteString(string(source[child.StartByte():child.EndByte()]))
			b.WriteString("\n\n")
			count++
		}
	}
	if count == 0 {
		return lineWindowFallback(path, source, 80)
	}
	return b.String()
}

func lineWindowFallback(path string, source []byte, maxLines int) string {
	lines := strings.Split(string(source), "\n")
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return fmt.Sprintf("// %s\n%s", path, strings.Join(lines, "\n"))
}
