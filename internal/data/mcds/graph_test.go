package mcds

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
)

func writeGraph(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.txt")
	writeLines(t, path, lines)
	return path
}

func TestParseGraphFile(t *testing.T) {
	path := writeGraph(t, []string{
		"0: 1,2",
		"1: 0",
		"2: 0",
		"5:",
	})
	graph, err := ParseGraphFile(path)
	if err != nil {
		t.Fatalf("ParseGraphFile failed: %v", err)
	}

	want := Graph{
		0: {1: {}, 2: {}},
		1: {0: {}},
		2: {0: {}},
		5: {},
	}
	if !reflect.DeepEqual(graph, want) {
		t.Fatalf("unexpected graph:\n got %v\nwant %v", graph, want)
	}
}

func TestParseGraphFileBlankLines(t *testing.T) {
	path := writeGraph(t, []string{"", "0: 1", "", "1: 0", ""})
	graph, err := ParseGraphFile(path)
	if err != nil {
		t.Fatalf("ParseGraphFile failed: %v", err)
	}
	if len(graph) != 2 {
		t.Errorf("expected 2 entries, got %d", len(graph))
	}
}

func TestParseGraphFileErrors(t *testing.T) {
	cases := []struct {
		name  string
		lines []string
	}{
		{"missing separator", []string{"0 1,2"}},
		{"bad id", []string{"x: 1"}},
		{"bad neighbor", []string{"0: 1,y"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseGraphFile(writeGraph(t, tc.lines))
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("expected ParseError, got %v", err)
			}
		})
	}

	if _, err := ParseGraphFile(filepath.Join(t.TempDir(), "absent.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

// Serializing a parsed graph back to the line format and reparsing yields
// the same graph.
func TestGraphRoundTrip(t *testing.T) {
	path := writeGraph(t, []string{"0: 1,2", "1: 0", "2: 0,1", "3:"})
	graph, err := ParseGraphFile(path)
	if err != nil {
		t.Fatalf("ParseGraphFile failed: %v", err)
	}

	ids := make([]int, 0, len(graph))
	for id := range graph {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	var lines []string
	for _, id := range ids {
		neighbors := make([]int, 0, len(graph[id]))
		for n := range graph[id] {
			neighbors = append(neighbors, n)
		}
		sort.Ints(neighbors)
		parts := make([]string, len(neighbors))
		for i, n := range neighbors {
			parts[i] = fmt.Sprint(n)
		}
		lines = append(lines, fmt.Sprintf("%d: %s", id, strings.Join(parts, ",")))
	}
	out := filepath.Join(t.TempDir(), "roundtrip.txt")
	if err := os.WriteFile(out, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	again, err := ParseGraphFile(out)
	if err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	if !reflect.DeepEqual(graph, again) {
		t.Fatalf("round trip changed the graph:\n got %v\nwant %v", again, graph)
	}
}
