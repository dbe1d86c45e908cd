package mcds

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ParseGraphFile parses PhysiCell's line-oriented adjacency format, one
// line per cell: "<id>: <comma-separated neighbor ids>". An empty right-hand
// side is a valid isolated cell.
func ParseGraphFile(path string) (Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	graph := make(Graph)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, rest, found := strings.Cut(line, ":")
		if !found {
			return nil, &ParseError{File: path, Reason: fmt.Sprintf("line %d: missing ':' separator", lineNo)}
		}
		id, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return nil, &ParseError{File: path, Reason: fmt.Sprintf("line %d: invalid cell id %q", lineNo, key)}
		}

		neighbors := make(map[int]struct{})
		if rest = strings.TrimSpace(rest); rest != "" {
			for _, tok := range strings.Split(rest, ",") {
				n, err := strconv.Atoi(strings.TrimSpace(tok))
				if err != nil {
					return nil, &ParseError{File: path, Reason: fmt.Sprintf("line %d: invalid neighbor id %q", lineNo, tok)}
				}
				neighbors[n] = struct{}{}
			}
		}
		graph[id] = neighbors
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return graph, nil
}
